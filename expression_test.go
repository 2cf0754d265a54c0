package bleep_test

import (
	"encoding/json"
	"errors"
	"math"
	"math/rand/v2"
	"testing"

	"github.com/bleepsynth/bleep"
	"gopkg.in/yaml.v3"
)

func boundCutoff() bleep.Expression {
	ctrl := bleep.Ident("cutoff")
	ctrl.Min, ctrl.Max, ctrl.Bound = 20, 20000, true
	return bleep.Expression{ctrl, bleep.Num(0), bleep.Num(1), bleep.FuncToken(bleep.FuncMap)}
}

func TestMapRescalesFromDeclaredBounds(t *testing.T) {
	expr := boundCutoff()
	for _, c := range []struct {
		cutoff float64
		want   float64
	}{{20000, 1}, {20, 0}, {10010, 0.5}} {
		got, err := expr.Evaluate(bleep.Params{"cutoff": c.cutoff}, nil)
		if err != nil {
			t.Fatalf("Evaluate error: %v", err)
		}
		if math.Abs(got-c.want) > 1e-9 {
			t.Errorf("map(param.cutoff,0,1) with cutoff %v = %v, want %v", c.cutoff, got, c.want)
		}
	}
}

func TestMapNeedsBoundIdentifier(t *testing.T) {
	expr := bleep.Expression{bleep.Ident("cutoff"), bleep.Num(0), bleep.Num(1), bleep.FuncToken(bleep.FuncMap)}
	if _, err := expr.Evaluate(bleep.Params{"cutoff": 100}, nil); err == nil {
		t.Fatal("expected an error for map over an unbound control")
	}
	expr = bleep.Expression{bleep.Num(3), bleep.Num(0), bleep.Num(1), bleep.FuncToken(bleep.FuncMap)}
	if _, err := expr.Evaluate(nil, nil); err == nil {
		t.Fatal("expected an error for map over a literal")
	}
}

func TestEvaluateArithmetic(t *testing.T) {
	params := bleep.Params{"pitch": 440, "level": 0.5}
	cases := []struct {
		name string
		expr bleep.Expression
		want float64
	}{
		{"identity", bleep.Expression{bleep.Ident("pitch")}, 440},
		{"literal", bleep.Expression{bleep.Num(-2.5)}, -2.5},
		{"sub", bleep.Expression{bleep.Ident("pitch"), bleep.Num(40), bleep.OpToken(bleep.OpSub)}, 400},
		{"div", bleep.Expression{bleep.Ident("pitch"), bleep.Num(2), bleep.OpToken(bleep.OpDiv)}, 220},
		{"precedence", bleep.Expression{bleep.Num(1), bleep.Ident("level"), bleep.Num(4), bleep.OpToken(bleep.OpMul), bleep.OpToken(bleep.OpAdd)}, 3},
		{"neg", bleep.Expression{bleep.Ident("level"), bleep.OpToken(bleep.OpNeg)}, -0.5},
		{"exp", bleep.Expression{bleep.Num(0), bleep.FuncToken(bleep.FuncExp)}, 1},
		{"log", bleep.Expression{bleep.Num(1), bleep.FuncToken(bleep.FuncLog)}, 0},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			got, err := c.expr.Evaluate(params, nil)
			if err != nil {
				t.Fatalf("Evaluate error: %v", err)
			}
			if math.Abs(got-c.want) > 1e-12 {
				t.Fatalf("got %v, want %v", got, c.want)
			}
		})
	}
}

func TestRandomStaysInRange(t *testing.T) {
	expr := bleep.Expression{bleep.Num(-3), bleep.Num(7), bleep.FuncToken(bleep.FuncRandom)}
	rnd := rand.New(rand.NewPCG(1, 2))
	for i := 0; i < 100; i++ {
		v, err := expr.Evaluate(nil, rnd)
		if err != nil {
			t.Fatalf("Evaluate error: %v", err)
		}
		if v < -3 || v > 7 {
			t.Fatalf("random(-3,7) gave %v", v)
		}
	}
}

func TestEvaluateErrors(t *testing.T) {
	if _, err := (bleep.Expression{bleep.OpToken(bleep.OpAdd)}).Evaluate(nil, nil); !errors.Is(err, bleep.ErrStackUnderflow) {
		t.Errorf("expected stack underflow, got %v", err)
	}
	if _, err := (bleep.Expression{bleep.Ident("nope")}).Evaluate(bleep.Params{}, nil); !errors.Is(err, bleep.ErrUnknownControl) {
		t.Errorf("expected unknown control, got %v", err)
	}
	if _, err := (bleep.Expression{bleep.Num(1), bleep.Num(2)}).Evaluate(nil, nil); err == nil {
		t.Error("expected an error for leftover operands")
	}
}

func TestTokensSerializeAsStrings(t *testing.T) {
	tw := bleep.Tweak{ID: "vcf", Param: "cutoff", Expression: boundCutoff()}
	b, err := json.Marshal(tw)
	if err != nil {
		t.Fatalf("json.Marshal error: %v", err)
	}
	want := `{"id":"vcf","param":"cutoff","expression":["param.cutoff","0","1","map"]}`
	if string(b) != want {
		t.Fatalf("got %s, want %s", b, want)
	}
	var back bleep.Tweak
	if err := json.Unmarshal(b, &back); err != nil {
		t.Fatalf("json.Unmarshal error: %v", err)
	}
	if back.Expression.String() != "param.cutoff 0 1 map" {
		t.Fatalf("unexpected expression after reading back: %v", back.Expression)
	}
	var fromYaml bleep.Tweak
	if err := yaml.Unmarshal([]byte("id: osc\nparam: pitch\nexpression: [param.pitch, '2', '*', neg]\n"), &fromYaml); err != nil {
		t.Fatalf("yaml.Unmarshal error: %v", err)
	}
	if got := fromYaml.Expression.String(); got != "param.pitch 2 * neg" {
		t.Fatalf("unexpected expression from yaml: %v", got)
	}
}

func TestParseTokenRejectsGarbage(t *testing.T) {
	for _, s := range []string{"", "param.", "foo", "1e999"} {
		if _, err := bleep.ParseToken(s); err == nil {
			t.Errorf("ParseToken(%q) should fail", s)
		}
	}
}
