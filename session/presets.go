package session

import (
	"embed"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
)

//go:embed presets/*.txt
var presetFS embed.FS

// Preset is the source text of a synth definition that is loaded when a
// session starts.
type Preset struct {
	Name   string // file name without the extension
	User   bool
	Source string
}

// LoadPresets returns the built-in synth definitions followed by the ones in
// the synthdefs directory of the user config directory, each group sorted
// by name.
func LoadPresets() []Preset {
	ret := loadPresetsFromFs(presetFS, "presets", false)
	if configDir, err := os.UserConfigDir(); err == nil {
		ret = append(ret, loadPresetsFromFs(os.DirFS(filepath.Join(configDir, "bleep")), "synthdefs", true)...)
	}
	return ret
}

func loadPresetsFromFs(fsys fs.FS, root string, userDefined bool) []Preset {
	var ret []Preset
	fs.WalkDir(fsys, root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || path.Ext(p) != ".txt" {
			return nil
		}
		data, err := fs.ReadFile(fsys, p)
		if err != nil {
			return nil
		}
		ret = append(ret, Preset{
			Name:   strings.TrimSuffix(path.Base(p), ".txt"),
			User:   userDefined,
			Source: string(data),
		})
		return nil
	})
	sort.Slice(ret, func(i, j int) bool { return ret[i].Name < ret[j].Name })
	return ret
}
