// Package apidoc builds the OpenAPI description of the HTTP API from a
// static route table and registers it with the swagger UI.
package apidoc

import (
	"encoding/json"
	"fmt"
	"net/http"
	"regexp"
	"strings"

	"github.com/getkin/kin-openapi/openapi3"
	"github.com/swaggo/swag"

	"github.com/techdocs/turbo/internal/file"
)

// BasePath prefixes every route in Routes.
const BasePath = "/api/v1"

// Multipart describes a multipart/form-data request body.
type Multipart struct {
	FileField string
	Multiple  bool
	// FileOptional marks the file part as not required.
	FileOptional bool
	// JSONField is a sibling part carrying a JSON document of schema
	// JSONSchema.
	JSONField  string
	JSONSchema string
}

// Route is one documented endpoint.
type Route struct {
	Method    string
	Path      string
	Tag       string
	Summary   string
	Query     []string
	Multipart *Multipart
	// JSONBody names the component schema of a JSON request body.
	JSONBody string
	Status   int
	// Response names the component schema of the success body; a leading
	// "[]" makes it an array.
	Response string
	Public   bool
}

// Routes lists every endpoint under BasePath.
var Routes = []Route{
	{Method: http.MethodGet, Path: "/files", Tag: "files", Summary: "List files", Query: []string{"page", "limit", "sortBy", "search", "filter.path"}, Status: http.StatusOK, Response: "FilePage"},
	{Method: http.MethodGet, Path: "/files/{id}", Tag: "files", Summary: "Get a file record or null", Status: http.StatusOK, Response: "File"},
	{Method: http.MethodPost, Path: "/files/upload", Tag: "files", Summary: "Upload one file", Multipart: &Multipart{FileField: "file"}, Status: http.StatusCreated, Response: "File"},
	{Method: http.MethodPost, Path: "/files/upload-multiple", Tag: "files", Summary: fmt.Sprintf("Upload up to %d files", file.MaxBatch), Multipart: &Multipart{FileField: "files", Multiple: true}, Status: http.StatusCreated, Response: "[]File"},
	{Method: http.MethodPut, Path: "/files/{id}", Tag: "files", Summary: "Replace the bytes of a file", Multipart: &Multipart{FileField: "file"}, Status: http.StatusOK, Response: "File"},
	{Method: http.MethodDelete, Path: "/files/{id}", Tag: "files", Summary: "Delete a file", Status: http.StatusOK, Response: "DeleteResult"},
	{Method: http.MethodGet, Path: "/files/presigned/{type}", Tag: "files", Summary: "Issue a presigned upload URL", Status: http.StatusOK, Response: "PresignedURL"},
	{Method: http.MethodPost, Path: "/files/from-url", Tag: "files", Summary: "Record a file uploaded elsewhere", JSONBody: "FromURLInput", Status: http.StatusCreated, Response: "File"},
	{Method: http.MethodGet, Path: "/files/raw/{key}", Tag: "files", Summary: "Download a locally stored file", Status: http.StatusOK, Public: true},
	{Method: http.MethodGet, Path: "/todos", Tag: "todos", Summary: "List todos", Status: http.StatusOK, Response: "[]Todo"},
	{Method: http.MethodPost, Path: "/todos", Tag: "todos", Summary: "Create a todo", JSONBody: "CreateTodoInput", Status: http.StatusCreated, Response: "Todo"},
	{Method: http.MethodPost, Path: "/todos/with-file", Tag: "todos", Summary: "Create a todo with an attachment", Multipart: &Multipart{FileField: "file", FileOptional: true, JSONField: "data", JSONSchema: "CreateTodoInput"}, Status: http.StatusCreated, Response: "TodoWithFile"},
	{Method: http.MethodGet, Path: "/todos/{id}", Tag: "todos", Summary: "Get a todo", Status: http.StatusOK, Response: "Todo"},
	{Method: http.MethodPut, Path: "/todos/{id}", Tag: "todos", Summary: "Update a todo", JSONBody: "UpdateTodoInput", Status: http.StatusOK, Response: "Todo"},
	{Method: http.MethodDelete, Path: "/todos/{id}", Tag: "todos", Summary: "Delete a todo", Status: http.StatusOK, Response: "TodoDeleteResult"},
}

var pathParamRe = regexp.MustCompile(`\{([^}]+)\}`)

// Build renders Routes into an OpenAPI 3 document. When secured is true
// every non-public route requires a bearer token.
func Build(serverURL string, secured bool) *openapi3.T {
	schemas := componentSchemas()
	doc := &openapi3.T{
		OpenAPI: "3.0.3",
		Info: &openapi3.Info{
			Title:       "Tech Docs API",
			Version:     "1.0.0",
			Description: "Files and todos.",
		},
		Servers: openapi3.Servers{{URL: strings.TrimRight(serverURL, "/") + BasePath}},
		Paths:   openapi3.NewPaths(),
		Components: &openapi3.Components{
			Schemas: openapi3.Schemas{},
			SecuritySchemes: openapi3.SecuritySchemes{
				"BearerAuth": &openapi3.SecuritySchemeRef{Value: openapi3.NewJWTSecurityScheme()},
			},
		},
	}
	for name, s := range schemas {
		doc.Components.Schemas[name] = openapi3.NewSchemaRef("", s)
	}

	for _, rt := range Routes {
		item := doc.Paths.Value(rt.Path)
		if item == nil {
			item = &openapi3.PathItem{}
			doc.Paths.Set(rt.Path, item)
		}
		item.SetOperation(rt.Method, operation(rt, schemas, secured))
	}
	return doc
}

func operation(rt Route, schemas map[string]*openapi3.Schema, secured bool) *openapi3.Operation {
	op := openapi3.NewOperation()
	op.Tags = []string{rt.Tag}
	op.Summary = rt.Summary
	op.OperationID = operationID(rt)

	for _, m := range pathParamRe.FindAllStringSubmatch(rt.Path, -1) {
		op.AddParameter(openapi3.NewPathParameter(m[1]).WithSchema(openapi3.NewStringSchema()))
	}
	for _, q := range rt.Query {
		op.AddParameter(openapi3.NewQueryParameter(q).WithSchema(openapi3.NewStringSchema()))
	}

	switch {
	case rt.Multipart != nil:
		op.RequestBody = &openapi3.RequestBodyRef{Value: openapi3.NewRequestBody().
			WithRequired(true).
			WithDescription("Accepted types: " + strings.Join(file.AllowedExtensions, ", ")).
			WithContent(openapi3.NewContentWithFormDataSchema(multipartSchema(rt.Multipart)))}
	case rt.JSONBody != "":
		op.RequestBody = &openapi3.RequestBodyRef{Value: openapi3.NewRequestBody().
			WithRequired(true).
			WithJSONSchemaRef(ref(rt.JSONBody, schemas))}
	}

	success := openapi3.NewResponse().WithDescription(http.StatusText(rt.Status))
	if rt.Response != "" {
		success = success.WithContent(openapi3.NewContentWithJSONSchemaRef(responseRef(rt.Response, schemas)))
	}
	op.AddResponse(rt.Status, success)
	op.AddResponse(0, openapi3.NewResponse().
		WithDescription("Error").
		WithJSONSchemaRef(ref("Error", schemas)))

	if secured && !rt.Public {
		op.Security = &openapi3.SecurityRequirements{openapi3.NewSecurityRequirement().Authenticate("BearerAuth")}
	}
	return op
}

func multipartSchema(m *Multipart) *openapi3.Schema {
	binary := openapi3.NewStringSchema().WithFormat("binary")
	s := openapi3.NewObjectSchema()
	if m.Multiple {
		s.WithProperty(m.FileField, openapi3.NewArraySchema().WithItems(binary).WithMinItems(1).WithMaxItems(file.MaxBatch))
	} else {
		s.WithProperty(m.FileField, binary)
	}
	if !m.FileOptional {
		s.Required = append(s.Required, m.FileField)
	}
	if m.JSONField != "" {
		s.WithProperty(m.JSONField, openapi3.NewStringSchema().WithFormat("json"))
		s.Properties[m.JSONField].Value.Description = "JSON encoded " + m.JSONSchema
		s.Required = append(s.Required, m.JSONField)
	}
	return s
}

func ref(name string, schemas map[string]*openapi3.Schema) *openapi3.SchemaRef {
	return openapi3.NewSchemaRef("#/components/schemas/"+name, schemas[name])
}

func responseRef(name string, schemas map[string]*openapi3.Schema) *openapi3.SchemaRef {
	if item, ok := strings.CutPrefix(name, "[]"); ok {
		return openapi3.NewArraySchema().WithItems(schemas[item]).NewRef()
	}
	return ref(name, schemas)
}

func operationID(rt Route) string {
	var b strings.Builder
	b.WriteString(strings.ToLower(rt.Method))
	for _, seg := range strings.Split(strings.Trim(rt.Path, "/"), "/") {
		seg = strings.Trim(seg, "{}")
		for _, part := range strings.FieldsFunc(seg, func(r rune) bool { return r == '-' }) {
			b.WriteString(strings.ToUpper(part[:1]) + part[1:])
		}
	}
	return b.String()
}

func componentSchemas() map[string]*openapi3.Schema {
	fileSchema := openapi3.NewObjectSchema().
		WithProperty("id", openapi3.NewUUIDSchema()).
		WithProperty("path", openapi3.NewStringSchema()).
		WithProperty("mimeType", openapi3.NewStringSchema()).
		WithProperty("createdAt", openapi3.NewDateTimeSchema()).
		WithProperty("updatedAt", openapi3.NewDateTimeSchema())
	fileSchema.Required = []string{"id", "path", "mimeType"}

	meta := openapi3.NewObjectSchema().
		WithProperty("totalItems", openapi3.NewIntegerSchema()).
		WithProperty("itemCount", openapi3.NewIntegerSchema()).
		WithProperty("itemsPerPage", openapi3.NewIntegerSchema()).
		WithProperty("totalPages", openapi3.NewIntegerSchema()).
		WithProperty("currentPage", openapi3.NewIntegerSchema())
	links := openapi3.NewObjectSchema().
		WithProperty("first", openapi3.NewStringSchema()).
		WithProperty("previous", openapi3.NewStringSchema()).
		WithProperty("current", openapi3.NewStringSchema()).
		WithProperty("next", openapi3.NewStringSchema()).
		WithProperty("last", openapi3.NewStringSchema())

	todoSchema := openapi3.NewObjectSchema().
		WithProperty("id", openapi3.NewIntegerSchema().WithMin(1)).
		WithProperty("title", openapi3.NewStringSchema().WithMinLength(1).WithMaxLength(200)).
		WithProperty("description", openapi3.NewStringSchema().WithMaxLength(1000)).
		WithProperty("completed", openapi3.NewBoolSchema()).
		WithProperty("createdAt", openapi3.NewDateTimeSchema())
	todoSchema.Required = []string{"id", "title", "completed", "createdAt"}

	createTodo := openapi3.NewObjectSchema().
		WithProperty("title", openapi3.NewStringSchema().WithMinLength(1).WithMaxLength(200)).
		WithProperty("description", openapi3.NewStringSchema().WithMaxLength(1000)).
		WithProperty("completed", openapi3.NewBoolSchema())
	createTodo.Required = []string{"title"}

	updateTodo := openapi3.NewObjectSchema().
		WithProperty("title", openapi3.NewStringSchema().WithMinLength(1).WithMaxLength(200)).
		WithProperty("description", openapi3.NewStringSchema().WithMaxLength(1000).WithNullable()).
		WithProperty("completed", openapi3.NewBoolSchema())

	attachment := openapi3.NewObjectSchema().
		WithProperty("originalName", openapi3.NewStringSchema()).
		WithProperty("mimetype", openapi3.NewStringSchema()).
		WithProperty("size", openapi3.NewInt64Schema())
	attachment.Nullable = true

	todoWithFile := openapi3.NewObjectSchema()
	for name, p := range todoSchema.Properties {
		todoWithFile.WithPropertyRef(name, p)
	}
	todoWithFile.WithProperty("file", attachment).
		WithProperty("fileId", openapi3.NewUUIDSchema())

	errSchema := openapi3.NewObjectSchema().
		WithProperty("status", openapi3.NewIntegerSchema()).
		WithProperty("errors", openapi3.NewObjectSchema().WithAdditionalProperties(openapi3.NewStringSchema()))

	return map[string]*openapi3.Schema{
		"File": fileSchema,
		"FilePage": openapi3.NewObjectSchema().
			WithProperty("data", openapi3.NewArraySchema().WithItems(fileSchema)).
			WithProperty("meta", meta).
			WithProperty("links", links),
		"DeleteResult": openapi3.NewObjectSchema().
			WithProperty("affected", openapi3.NewInt64Schema()).
			WithProperty("raw", openapi3.NewArraySchema().WithItems(openapi3.NewObjectSchema())),
		"PresignedURL": openapi3.NewObjectSchema().
			WithProperty("presignedUrl", openapi3.NewStringSchema()).
			WithProperty("fileName", openapi3.NewStringSchema()),
		"FromURLInput":     openapi3.NewObjectSchema().WithProperty("url", openapi3.NewStringSchema().WithFormat("uri")),
		"Todo":             todoSchema,
		"CreateTodoInput":  createTodo,
		"UpdateTodoInput":  updateTodo,
		"TodoWithFile":     todoWithFile,
		"TodoDeleteResult": openapi3.NewObjectSchema().WithProperty("success", openapi3.NewBoolSchema()).WithProperty("id", openapi3.NewIntegerSchema()),
		"Error":            errSchema,
	}
}

// Document is a rendered spec that can be served and handed to swag.
type Document struct {
	raw []byte
}

// NewDocument marshals doc.
func NewDocument(doc *openapi3.T) (*Document, error) {
	raw, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("marshal openapi document: %w", err)
	}
	return &Document{raw: raw}, nil
}

// ReadDoc implements swag.Swagger.
func (d *Document) ReadDoc() string {
	return string(d.raw)
}

// Register makes the document the one served at /swagger/doc.json.
func (d *Document) Register() {
	swag.Register(swag.Name, d)
}

// ServeHTTP serves the document as JSON.
func (d *Document) ServeHTTP(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(d.raw)
}
