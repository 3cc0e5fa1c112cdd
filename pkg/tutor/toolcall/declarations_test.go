package toolcall

import (
	"encoding/json"
	"testing"
)

func TestDeclarations_CoverEveryKind(t *testing.T) {
	t.Parallel()

	decls, err := Declarations()
	if err != nil {
		t.Fatalf("Declarations: %v", err)
	}
	if len(decls) != len(Kinds()) {
		t.Fatalf("declarations=%d, want %d", len(decls), len(Kinds()))
	}
	for i, k := range Kinds() {
		d := decls[i]
		if d.Type != "function" || d.Name != k.String() || d.Description == "" {
			t.Fatalf("decl[%d]=%+v", i, d)
		}
		var schema map[string]any
		if err := json.Unmarshal(d.Parameters, &schema); err != nil {
			t.Fatalf("%s parameters: %v", d.Name, err)
		}
		if schema["type"] != "object" {
			t.Fatalf("%s schema type=%v", d.Name, schema["type"])
		}
	}
}

func TestDeclarations_CircleRegionRequiresBox(t *testing.T) {
	t.Parallel()

	decls, err := Declarations()
	if err != nil {
		t.Fatalf("Declarations: %v", err)
	}
	var circle Declaration
	for _, d := range decls {
		if d.Name == "circle_region" {
			circle = d
		}
	}
	var schema struct {
		Required []string `json:"required"`
	}
	if err := json.Unmarshal(circle.Parameters, &schema); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	want := map[string]bool{"x": true, "y": true, "width": true, "height": true}
	for _, r := range schema.Required {
		delete(want, r)
	}
	if len(want) != 0 {
		t.Fatalf("missing required fields %v (got %v)", want, schema.Required)
	}
}
