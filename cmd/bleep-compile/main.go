package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/bleepsynth/bleep"
	"github.com/bleepsynth/bleep/compiler"
	"github.com/bleepsynth/bleep/version"
)

func main() {
	safe := flag.Bool("n", false, "Never overwrite files; if file already exists and would be overwritten, give an error.")
	list := flag.Bool("l", false, "Do not write files; just list files that would change instead.")
	stdout := flag.Bool("s", false, "Do not write files; write to standard output instead.")
	help := flag.Bool("h", false, "Show help.")
	jsonOut := flag.Bool("j", false, "Output the synth definition as .json file.")
	yamlOut := flag.Bool("y", false, "Output the synth definition as .yml file.")
	docOut := flag.Bool("d", false, "Output the documentation of the synth definition as .md file.")
	strict := flag.Bool("w", false, "Treat warnings as errors.")
	tmplDir := flag.String("t", "", "When writing documentation, use the templates in this directory instead of the standard templates.")
	outPath := flag.String("o", "", "Directory or filename where to write the output. Extension is ignored. Directory and its parents are created if needed. By default, everything is placed in the working directory.")
	versionFlag := flag.Bool("v", false, "Print version.")
	flag.Usage = printUsage
	flag.Parse()
	if *versionFlag {
		fmt.Println(version.VersionOrHash)
		os.Exit(0)
	}
	if flag.NArg() == 0 || *help {
		flag.Usage()
		os.Exit(0)
	}
	if !*jsonOut && !*yamlOut && !*docOut {
		*jsonOut = true // with no output chosen, the synth definition is written as json
	}
	var doc *compiler.Documenter
	if *docOut {
		var err error
		if *tmplDir != "" {
			doc, err = compiler.NewDocumenterFromTemplates(*tmplDir)
		} else {
			doc, err = compiler.NewDocumenter()
		}
		if err != nil {
			fmt.Fprintf(os.Stderr, "error creating documenter: %v\n", err)
			os.Exit(1)
		}
	}
	output := func(filename string, extension string, contents []byte) error {
		if *stdout {
			fmt.Print(string(contents))
			return nil
		}
		_, name := filepath.Split(filename)
		var dir string
		if *outPath != "" {
			// check if it's an already existing directory and the user just forgot trailing slash
			if info, err := os.Stat(*outPath); err == nil && info.IsDir() {
				dir = *outPath
			} else {
				outdir, outname := filepath.Split(*outPath)
				if outdir != "" {
					dir = outdir
				}
				if outname != "" {
					name = outname
				}
			}
		}
		if dir == "" {
			var err error
			dir, err = os.Getwd()
			if err != nil {
				return fmt.Errorf("could not get working directory, specify the output directory explicitly: %v", err)
			}
		}
		name = strings.TrimSuffix(name, filepath.Ext(name)) + extension
		f := filepath.Join(dir, name)
		original, err := os.ReadFile(f)
		if err == nil {
			if bytes.Equal(original, contents) {
				return nil // no need to update
			}
			if !*list && *safe {
				return fmt.Errorf("file %v would be overwritten", f)
			}
		}
		if *list {
			fmt.Println(f)
			return nil
		}
		if err := os.MkdirAll(dir, os.ModePerm); err != nil {
			return fmt.Errorf("could not create output directory %v: %v", dir, err)
		}
		if err := os.WriteFile(f, contents, 0644); err != nil {
			return fmt.Errorf("could not write file %v: %v", f, err)
		}
		return nil
	}
	process := func(filename string) error {
		inputBytes, err := os.ReadFile(filename)
		if err != nil {
			return fmt.Errorf("could not read file %v: %v", filename, err)
		}
		def, err := compiler.Compile(string(inputBytes))
		if err != nil {
			return err
		}
		gen := bleep.FromSynthDef(def)
		if !gen.Valid() {
			return gen.Err()
		}
		for _, w := range gen.Warnings() {
			fmt.Fprintf(os.Stderr, "%v: warning: %v\n", filename, w)
		}
		if *strict && gen.HasWarning() {
			return fmt.Errorf("%d warnings", len(gen.Warnings()))
		}
		if *jsonOut {
			jsonDef, err := json.MarshalIndent(def, "", "  ")
			if err != nil {
				return fmt.Errorf("could not marshal the synth definition as json file: %v", err)
			}
			if err := output(filename, ".json", append(jsonDef, '\n')); err != nil {
				return fmt.Errorf("error outputting json file: %v", err)
			}
		}
		if *yamlOut {
			yamlDef, err := yaml.Marshal(def)
			if err != nil {
				return fmt.Errorf("could not marshal the synth definition as yaml file: %v", err)
			}
			if err := output(filename, ".yml", yamlDef); err != nil {
				return fmt.Errorf("error outputting yaml file: %v", err)
			}
		}
		if *docOut {
			md, err := doc.Render(def, gen.Warnings())
			if err != nil {
				return fmt.Errorf("could not render the documentation: %v", err)
			}
			if err := output(filename, ".md", []byte(md)); err != nil {
				return fmt.Errorf("error outputting md file: %v", err)
			}
		}
		return nil
	}
	retval := 0
	for _, param := range flag.Args() {
		if info, err := os.Stat(param); err == nil && info.IsDir() {
			files, err := filepath.Glob(filepath.Join(param, "*.txt"))
			if err != nil {
				fmt.Fprintf(os.Stderr, "could not glob the path %v for synth definitions: %v\n", param, err)
				retval = 1
				continue
			}
			for _, file := range files {
				if err := process(file); err != nil {
					fmt.Fprintf(os.Stderr, "could not process file %v: %v\n", file, err)
					retval = 1
				}
			}
		} else if err := process(param); err != nil {
			fmt.Fprintf(os.Stderr, "could not process file %v: %v\n", param, err)
			retval = 1
		}
	}
	os.Exit(retval)
}

func printUsage() {
	fmt.Fprintf(os.Stderr, "Bleep synth definition compiler. Input .txt synth definitions, outputs them as .json, .yml or .md documentation.\nUsage: %s [flags] [path ...]\n", os.Args[0])
	flag.PrintDefaults()
}
