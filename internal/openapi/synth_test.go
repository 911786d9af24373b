package openapi

import (
	"context"
	"testing"
)

const petstoreDoc = `
openapi: 3.0.3
info:
  title: Petstore
  version: "1.0"
servers:
  - url: https://api.example.com/v1
paths:
  /pets/{petId}:
    get:
      operationId: getPet
      summary: Fetch a pet
      parameters:
        - name: petId
          in: path
          required: true
          schema:
            type: string
        - name: X-Request-Id
          in: header
          schema:
            type: string
      responses:
        "200":
          description: ok
  /pets:
    post:
      operationId: createPet
      requestBody:
        required: true
        content:
          application/json:
            schema:
              type: object
              properties:
                name:
                  type: string
      responses:
        "201":
          description: created
`

func TestLoadAndSynthesize_Petstore(t *testing.T) {
	out, err := LoadAndSynthesize(context.Background(), []byte(petstoreDoc), "")
	if err != nil {
		t.Fatalf("LoadAndSynthesize: %v", err)
	}
	if out.ServerPrefix != "https://api.example.com/v1" {
		t.Errorf("ServerPrefix = %q", out.ServerPrefix)
	}
	if len(out.Tools) != 2 {
		t.Fatalf("got %d tools, want 2", len(out.Tools))
	}

	// Deterministic order: the document declares /pets/{petId} before
	// /pets, so getPet comes first regardless of alphabetical name order.
	if out.Tools[0].Descriptor.Name != "getPet" {
		t.Errorf("Tools[0] = %q, want getPet", out.Tools[0].Descriptor.Name)
	}
	if out.Tools[1].Descriptor.Name != "createPet" {
		t.Errorf("Tools[1] = %q, want createPet", out.Tools[1].Descriptor.Name)
	}

	getPet := out.Tools[0]
	if getPet.Call.Method != "GET" || getPet.Call.Path != "/pets/{petId}" {
		t.Errorf("unexpected call shape: %+v", getPet.Call)
	}
	props, ok := getPet.Descriptor.InputSchema["properties"].(map[string]any)
	if !ok {
		t.Fatal("InputSchema.properties missing or wrong type")
	}
	if _, ok := props["path"]; !ok {
		t.Error("expected a path parameter group")
	}
	if _, ok := props["header"]; !ok {
		t.Error("expected a header parameter group")
	}

	createPet := out.Tools[1]
	if createPet.Call.Method != "POST" {
		t.Errorf("createPet method = %q, want POST", createPet.Call.Method)
	}
	cprops := createPet.Descriptor.InputSchema["properties"].(map[string]any)
	if _, ok := cprops["body"]; !ok {
		t.Error("expected a body parameter group for createPet")
	}
	req, _ := createPet.Descriptor.InputSchema["required"].([]string)
	if len(req) != 1 || req[0] != "body" {
		t.Errorf("required = %v, want [body]", req)
	}
}

func TestSynthesize_MethodOrderWithinPathIsDeclarationOrder(t *testing.T) {
	doc := `
openapi: 3.0.3
info: {title: x, version: "1"}
paths:
  /widgets:
    delete:
      operationId: deleteWidget
      responses: {"204": {description: gone}}
    get:
      operationId: listWidgets
      responses: {"200": {description: ok}}
    post:
      operationId: createWidget
      responses: {"201": {description: created}}
`
	out, err := LoadAndSynthesize(context.Background(), []byte(doc), "")
	if err != nil {
		t.Fatalf("LoadAndSynthesize: %v", err)
	}
	if len(out.Tools) != 3 {
		t.Fatalf("got %d tools, want 3", len(out.Tools))
	}
	names := []string{out.Tools[0].Descriptor.Name, out.Tools[1].Descriptor.Name, out.Tools[2].Descriptor.Name}
	want := []string{"deleteWidget", "listWidgets", "createWidget"}
	for i := range want {
		if names[i] != want[i] {
			t.Errorf("Tools[%d] = %q, want %q (declaration order, not alphabetical)", i, names[i], want[i])
		}
	}
}

func TestSynthesize_MissingOperationID(t *testing.T) {
	doc := `
openapi: 3.0.3
info: {title: x, version: "1"}
paths:
  /x:
    get:
      responses:
        "200":
          description: ok
`
	_, err := LoadAndSynthesize(context.Background(), []byte(doc), "")
	if err == nil {
		t.Fatal("expected error for operation missing operationId")
	}
}

func TestSynthesize_MultipleServersWithoutOverride(t *testing.T) {
	doc := `
openapi: 3.0.3
info: {title: x, version: "1"}
servers:
  - url: https://a.example.com
  - url: https://b.example.com
paths: {}
`
	_, err := LoadAndSynthesize(context.Background(), []byte(doc), "")
	if err == nil {
		t.Fatal("expected error for multiple servers with no override")
	}
}

func TestSynthesize_BaseURLOverrideWins(t *testing.T) {
	doc := `
openapi: 3.0.3
info: {title: x, version: "1"}
servers:
  - url: https://a.example.com
  - url: https://b.example.com
paths: {}
`
	out, err := LoadAndSynthesize(context.Background(), []byte(doc), "https://override.example.com")
	if err != nil {
		t.Fatalf("LoadAndSynthesize: %v", err)
	}
	if out.ServerPrefix != "https://override.example.com" {
		t.Errorf("ServerPrefix = %q, want override", out.ServerPrefix)
	}
}

func TestSynthesize_NoServersDefaultsToSlash(t *testing.T) {
	doc := `
openapi: 3.0.3
info: {title: x, version: "1"}
paths: {}
`
	out, err := LoadAndSynthesize(context.Background(), []byte(doc), "")
	if err != nil {
		t.Fatalf("LoadAndSynthesize: %v", err)
	}
	if out.ServerPrefix != "/" {
		t.Errorf("ServerPrefix = %q, want /", out.ServerPrefix)
	}
}
