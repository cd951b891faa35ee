package project

import (
	"bytes"
	"embed"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/jackzampolin/scribe/internal/manifest"
)

//go:embed schemas/*.json
var schemaFS embed.FS

var (
	schemaOnce          sync.Once
	schemaErr           error
	metadataSchema      *jsonschema.Schema
	versificationSchema *jsonschema.Schema
)

func compileSchemas() error {
	schemaOnce.Do(func() {
		metadataSchema, schemaErr = compileEmbedded("metadata.schema.json")
		if schemaErr != nil {
			return
		}
		versificationSchema, schemaErr = compileEmbedded("versification.schema.json")
	})
	return schemaErr
}

func compileEmbedded(name string) (*jsonschema.Schema, error) {
	raw, err := schemaFS.ReadFile("schemas/" + name)
	if err != nil {
		return nil, err
	}
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(name, bytes.NewReader(raw)); err != nil {
		return nil, fmt.Errorf("add schema %s: %w", name, err)
	}
	return compiler.Compile(name)
}

func validateJSON(sch *jsonschema.Schema, raw []byte) error {
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return err
	}
	return sch.Validate(doc)
}

// Metadata is the subset of a project's metadata.json that import uses.
type Metadata struct {
	Name         string
	Language     string
	LanguageName string
	Names        map[string]manifest.Names
}

type localized map[string]string

// pick prefers English, then the alphabetically first language.
func (l localized) pick() string {
	if v, ok := l["en"]; ok {
		return v
	}
	keys := make([]string, 0, len(l))
	for k := range l {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	if len(keys) == 0 {
		return ""
	}
	return l[keys[0]]
}

type rawMetadata struct {
	Identification struct {
		Name localized `json:"name"`
	} `json:"identification"`
	Languages []struct {
		Tag  string    `json:"tag"`
		Name localized `json:"name"`
	} `json:"languages"`
	LocalizedNames json.RawMessage `json:"localizedNames"`
}

type rawBookNames struct {
	Abbr  localized `json:"abbr"`
	Short localized `json:"short"`
	Long  localized `json:"long"`
}

// ParseMetadata reads metadata.json. localizedNames may be an object or a
// JSON-encoded string holding the object.
func ParseMetadata(raw []byte) (*Metadata, error) {
	var rm rawMetadata
	if err := json.Unmarshal(raw, &rm); err != nil {
		return nil, fmt.Errorf("parse metadata: %w", err)
	}
	md := &Metadata{
		Name:  rm.Identification.Name.pick(),
		Names: map[string]manifest.Names{},
	}
	if len(rm.Languages) > 0 {
		md.Language = rm.Languages[0].Tag
		md.LanguageName = rm.Languages[0].Name.pick()
	}

	var names map[string]rawBookNames
	if err := unmarshalMaybeString(rm.LocalizedNames, &names); err != nil {
		return nil, fmt.Errorf("parse localizedNames: %w", err)
	}
	for code, n := range names {
		md.Names[code] = manifest.Names{
			Abbr:  n.Abbr.pick(),
			Short: n.Short.pick(),
			Long:  n.Long.pick(),
		}
	}
	return md, nil
}

// ParseVersification reads maxVerses from versification.json into
// book -> chapter -> verse count.
func ParseVersification(raw []byte) (map[string]map[int]int, error) {
	var doc struct {
		MaxVerses json.RawMessage `json:"maxVerses"`
	}
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("parse versification: %w", err)
	}
	var books map[string][]json.RawMessage
	if err := unmarshalMaybeString(doc.MaxVerses, &books); err != nil {
		return nil, fmt.Errorf("parse maxVerses: %w", err)
	}
	out := make(map[string]map[int]int, len(books))
	for code, counts := range books {
		chapters := make(map[int]int, len(counts))
		for i, c := range counts {
			n, err := countValue(c)
			if err != nil {
				return nil, fmt.Errorf("maxVerses %s chapter %d: %w", code, i+1, err)
			}
			chapters[i+1] = n
		}
		out[code] = chapters
	}
	return out, nil
}

func countValue(raw json.RawMessage) (int, error) {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return strconv.Atoi(s)
	}
	var n int
	err := json.Unmarshal(raw, &n)
	return n, err
}

func unmarshalMaybeString(raw json.RawMessage, v any) error {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil
	}
	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return err
		}
		raw = []byte(s)
	}
	return json.Unmarshal(raw, v)
}
