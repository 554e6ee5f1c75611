package introspect

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/open-mcp/mcpbridge/pkg/config"
)

// Collection is a Postman v2.1 collection document.
type Collection struct {
	Info     CollectionInfo `json:"info"`
	Item     []Folder       `json:"item"`
	Variable []Variable     `json:"variable"`
}

// CollectionInfo is the Postman v2.1 "info" block.
type CollectionInfo struct {
	PostmanID string `json:"_postman_id"`
	Name      string `json:"name"`
	Schema    string `json:"schema"`
}

// Folder is a Postman v2.1 folder ("item" entry that itself holds items).
type Folder struct {
	Name string    `json:"name"`
	Item []Request `json:"item"`
}

// Request is a single Postman v2.1 request entry.
type Request struct {
	Name    string      `json:"name"`
	Request RequestBody `json:"request"`
}

// RequestBody is the HTTP shape of a Postman request entry.
type RequestBody struct {
	Method string      `json:"method"`
	Header []Header    `json:"header"`
	Body   *RequestRaw `json:"body,omitempty"`
	URL    URL         `json:"url"`
}

type Header struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

type RequestRaw struct {
	Mode string `json:"mode"`
	Raw  string `json:"raw"`
}

type URL struct {
	Raw  string   `json:"raw"`
	Host []string `json:"host"`
	Path []string `json:"path"`
}

// Variable is a Postman v2.1 collection-level variable, extended with
// the convenience unit/values fields.
type Variable struct {
	Key    string   `json:"key"`
	Value  string   `json:"value"`
	Unit   string   `json:"unit,omitempty"`
	Values []string `json:"values,omitempty"`
}

const postmanSchema = "https://schema.getpostman.com/json/collection/v2.1.0/collection.json"

// synthesize builds the Collection document from a transient backend's
// probed surface: one folder per non-empty capability
// class, plus a "General Operations" folder with the four canonical
// discovery endpoints.
func synthesize(spec *config.BackendSpec, tools []Tool, resources []Resource, prompts []Prompt) *Collection {
	serverID := deriveServerID(spec)

	folders := make([]Folder, 0, 4)
	if len(tools) > 0 {
		folders = append(folders, toolsFolder(serverID, tools))
	}
	if len(resources) > 0 {
		folders = append(folders, resourcesFolder(serverID, resources))
	}
	if len(prompts) > 0 {
		folders = append(folders, promptsFolder(serverID, prompts))
	}
	folders = append(folders, generalOperationsFolder(serverID))

	variables := []Variable{
		{Key: "url", Value: "{{url}}"},
		{Key: "server_id", Value: serverID, Unit: "id", Values: []string{serverID}},
	}
	if spec.URL != "" {
		variables[0].Value = spec.URL
	}
	variables = append(variables, Variable{Key: "auth_token", Value: ""})

	return &Collection{
		Info: CollectionInfo{
			PostmanID: uuid.NewString(),
			Name:      fmt.Sprintf("%s (mcpbridge)", serverID),
			Schema:    postmanSchema,
		},
		Item:     folders,
		Variable: variables,
	}
}

func toolsFolder(serverID string, tools []Tool) Folder {
	items := make([]Request, 0, len(tools))
	for _, tool := range tools {
		body, _ := json.MarshalIndent(exampleFromSchema(tool.InputSchema), "", "  ") //nolint:errcheck // example generation never fails on well-formed schema input
		items = append(items, Request{
			Name: tool.Name,
			Request: RequestBody{
				Method: "POST",
				Header: []Header{{Key: "Content-Type", Value: "application/json"}},
				Body:   &RequestRaw{Mode: "raw", Raw: string(body)},
				URL:    toolURL(serverID, tool.Name),
			},
		})
	}
	return Folder{Name: "Tools", Item: items}
}

func resourcesFolder(serverID string, resources []Resource) Folder {
	items := make([]Request, 0, len(resources))
	for _, r := range resources {
		items = append(items, Request{
			Name: r.Name,
			Request: RequestBody{
				Method: "GET",
				URL:    resourceURL(serverID, r.URI),
			},
		})
	}
	return Folder{Name: "Resources", Item: items}
}

func promptsFolder(serverID string, prompts []Prompt) Folder {
	items := make([]Request, 0, len(prompts))
	for _, p := range prompts {
		args := make(map[string]any, len(p.Arguments))
		for _, a := range p.Arguments {
			args[a.Name] = "example"
		}
		body, _ := json.MarshalIndent(args, "", "  ") //nolint:errcheck // example generation never fails on well-formed descriptor input
		items = append(items, Request{
			Name: p.Name,
			Request: RequestBody{
				Method: "POST",
				Header: []Header{{Key: "Content-Type", Value: "application/json"}},
				Body:   &RequestRaw{Mode: "raw", Raw: string(body)},
				URL:    promptURL(serverID, p.Name),
			},
		})
	}
	return Folder{Name: "Prompts", Item: items}
}

func generalOperationsFolder(serverID string) Folder {
	discovery := []struct {
		name, path string
	}{
		{"List Tools", "tools"},
		{"List Resources", "resources"},
		{"List Prompts", "prompts"},
		{"Health", "health"},
	}
	items := make([]Request, 0, len(discovery))
	for _, d := range discovery {
		path := []string{"servers", serverID, d.path}
		if d.name == "Health" {
			path = []string{"health"}
		}
		items = append(items, Request{
			Name: d.name,
			Request: RequestBody{
				Method: "GET",
				URL:    URL{Raw: "{{url}}/" + joinPath(path), Host: []string{"{{url}}"}, Path: path},
			},
		})
	}
	return Folder{Name: "General Operations", Item: items}
}

func toolURL(serverID, toolName string) URL {
	path := []string{"servers", serverID, "tools", toolName}
	return URL{Raw: "{{url}}/" + joinPath(path), Host: []string{"{{url}}"}, Path: path}
}

func resourceURL(serverID, uri string) URL {
	path := []string{"servers", serverID, "resources", uri}
	return URL{Raw: "{{url}}/" + joinPath(path), Host: []string{"{{url}}"}, Path: path}
}

func promptURL(serverID, name string) URL {
	path := []string{"servers", serverID, "prompts", name}
	return URL{Raw: "{{url}}/" + joinPath(path), Host: []string{"{{url}}"}, Path: path}
}

func joinPath(segments []string) string {
	out := ""
	for i, s := range segments {
		if i > 0 {
			out += "/"
		}
		out += s
	}
	return out
}
