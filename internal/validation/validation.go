// Package validation はリクエストボディをJSON Schemaで検証し、型付きの入力に変換する。
//
// 検証に失敗した場合はフィールド単位の詳細を持つ *model.APIError を返す。
// JSONとして解釈できないボディは INVALID_REQUEST、スキーマ違反は VALIDATION_ERROR となる。
package validation

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"regexp"
	"sort"
	"strings"

	"github.com/hitoshi/todoman/internal/model"
	jsonschema "github.com/santhosh-tekuri/jsonschema/v5"
)

const (
	todoSchemaURL        = "todoman://schemas/todo.json"
	todoPatchSchemaURL   = "todoman://schemas/todo-patch.json"
	credentialsSchemaURL = "todoman://schemas/credentials.json"
)

// 上限値。タイトルとユーザー名は表示上の都合で短めにする。
const (
	MaxTitleLength       = 200
	MaxDescriptionLength = 2000
	MaxUsernameLength    = 64
	MaxPasswordLength    = 256
)

var todoSchema = fmt.Sprintf(`{
	"type": "object",
	"required": ["title"],
	"properties": {
		"title":       {"type": "string", "minLength": 1, "maxLength": %d},
		"description": {"type": "string", "maxLength": %d},
		"priority":    {"enum": ["low", "medium", "high"]}
	}
}`, MaxTitleLength, MaxDescriptionLength)

var todoPatchSchema = fmt.Sprintf(`{
	"type": "object",
	"properties": {
		"title":       {"type": "string", "minLength": 1, "maxLength": %d},
		"description": {"type": "string", "maxLength": %d},
		"priority":    {"enum": ["low", "medium", "high"]},
		"completed":   {"type": "boolean"}
	}
}`, MaxTitleLength, MaxDescriptionLength)

var credentialsSchema = fmt.Sprintf(`{
	"type": "object",
	"required": ["username", "password"],
	"properties": {
		"username": {"type": "string", "minLength": 1, "maxLength": %d, "pattern": "^\\S+$"},
		"password": {"type": "string", "minLength": 1, "maxLength": %d}
	}
}`, MaxUsernameLength, MaxPasswordLength)

// Credentials はログイン・登録リクエストの入力値。
type Credentials struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type todoBody struct {
	Title       string         `json:"title"`
	Description string         `json:"description"`
	Priority    model.Priority `json:"priority"`
}

type todoPatchBody struct {
	Title       *string         `json:"title"`
	Description *string         `json:"description"`
	Priority    *model.Priority `json:"priority"`
	Completed   *bool           `json:"completed"`
}

// Validator はコンパイル済みのスキーマを保持する。並行利用して問題ない。
type Validator struct {
	todo        *jsonschema.Schema
	todoPatch   *jsonschema.Schema
	credentials *jsonschema.Schema
}

// New はスキーマをコンパイルしてValidatorを生成する。
func New() (*Validator, error) {
	compiler := jsonschema.NewCompiler()
	resources := map[string]string{
		todoSchemaURL:        todoSchema,
		todoPatchSchemaURL:   todoPatchSchema,
		credentialsSchemaURL: credentialsSchema,
	}
	for url, schema := range resources {
		if err := compiler.AddResource(url, strings.NewReader(schema)); err != nil {
			return nil, fmt.Errorf("failed to add schema %s: %w", url, err)
		}
	}

	v := &Validator{}
	targets := []struct {
		url  string
		dest **jsonschema.Schema
	}{
		{todoSchemaURL, &v.todo},
		{todoPatchSchemaURL, &v.todoPatch},
		{credentialsSchemaURL, &v.credentials},
	}
	for _, target := range targets {
		schema, err := compiler.Compile(target.url)
		if err != nil {
			return nil, fmt.Errorf("failed to compile schema %s: %w", target.url, err)
		}
		*target.dest = schema
	}
	return v, nil
}

// MustNew はNewと同じだが、失敗時にpanicする。スキーマは埋め込みのため通常失敗しない。
func MustNew() *Validator {
	v, err := New()
	if err != nil {
		panic(err)
	}
	return v
}

// TodoInput はタスクの作成・置換リクエストを検証する。
// priority省略時は空のまま返し、既定値の適用は保存時に行う。
func (v *Validator) TodoInput(body []byte) (model.NewTodo, error) {
	var parsed todoBody
	if err := v.validate(v.todo, body, &parsed); err != nil {
		return model.NewTodo{}, err
	}
	return model.NewTodo{
		Title:       parsed.Title,
		Description: parsed.Description,
		Priority:    parsed.Priority,
	}, nil
}

// TodoPatch はタスクの部分更新リクエストを検証する。空のオブジェクトも受け付ける。
func (v *Validator) TodoPatch(body []byte) (model.TodoPatch, error) {
	var parsed todoPatchBody
	if err := v.validate(v.todoPatch, body, &parsed); err != nil {
		return model.TodoPatch{}, err
	}
	return model.TodoPatch{
		Title:       parsed.Title,
		Description: parsed.Description,
		Priority:    parsed.Priority,
		Completed:   parsed.Completed,
	}, nil
}

// Credentials はユーザー名とパスワードのリクエストを検証する。
func (v *Validator) Credentials(body []byte) (Credentials, error) {
	var parsed Credentials
	if err := v.validate(v.credentials, body, &parsed); err != nil {
		return Credentials{}, err
	}
	return parsed, nil
}

func (v *Validator) validate(schema *jsonschema.Schema, body []byte, dest any) error {
	doc, err := decodeDocument(body)
	if err != nil {
		return model.NewInvalidRequestError()
	}

	if err := schema.Validate(doc); err != nil {
		var ve *jsonschema.ValidationError
		if errors.As(err, &ve) {
			return model.NewValidationError(fieldErrors(ve))
		}
		return fmt.Errorf("failed to validate request: %w", err)
	}

	if err := json.Unmarshal(body, dest); err != nil {
		return model.NewInvalidRequestError()
	}
	return nil
}

// decodeDocument はスキーマ検証用にボディを汎用値へ変換する。
// 数値の精度を保つためUseNumberを使い、後続データがあればエラーとする。
func decodeDocument(body []byte) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	var doc any
	if err := dec.Decode(&doc); err != nil {
		return nil, err
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, errors.New("unexpected data after JSON value")
	}
	return doc, nil
}

// fieldErrors はValidationErrorの葉をフィールド単位のエラーに変換する。
// 同じフィールドに複数の違反がある場合は最初の1件のみ残す。
func fieldErrors(ve *jsonschema.ValidationError) []model.FieldError {
	var leaves []*jsonschema.ValidationError
	collectLeaves(ve, &leaves)

	seen := make(map[string]bool)
	var details []model.FieldError
	for _, leaf := range leaves {
		for _, fe := range toFieldErrors(leaf) {
			if seen[fe.Field] {
				continue
			}
			seen[fe.Field] = true
			details = append(details, fe)
		}
	}
	sort.SliceStable(details, func(i, j int) bool { return details[i].Field < details[j].Field })
	return details
}

func collectLeaves(ve *jsonschema.ValidationError, leaves *[]*jsonschema.ValidationError) {
	if len(ve.Causes) == 0 {
		*leaves = append(*leaves, ve)
		return
	}
	for _, cause := range ve.Causes {
		collectLeaves(cause, leaves)
	}
}

var quotedName = regexp.MustCompile(`'([^']+)'`)

func toFieldErrors(ve *jsonschema.ValidationError) []model.FieldError {
	keyword := ve.KeywordLocation[strings.LastIndex(ve.KeywordLocation, "/")+1:]

	if keyword == "required" {
		var out []model.FieldError
		for _, m := range quotedName.FindAllStringSubmatch(ve.Message, -1) {
			out = append(out, model.FieldError{Field: m[1], Message: "必須項目です。"})
		}
		if len(out) > 0 {
			return out
		}
	}

	field := strings.TrimPrefix(ve.InstanceLocation, "/")
	if field == "" {
		field = "body"
	}
	return []model.FieldError{{Field: field, Message: keywordMessage(keyword, ve.Message)}}
}

func keywordMessage(keyword, fallback string) string {
	switch keyword {
	case "type":
		return "値の型が正しくありません。"
	case "minLength":
		return "空にできません。"
	case "maxLength":
		return "長すぎます。"
	case "enum":
		return "low, medium, high のいずれかを指定してください。"
	case "pattern":
		return "空白文字は使用できません。"
	default:
		return fallback
	}
}
