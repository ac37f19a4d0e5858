package classifier

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// Rules is the versioned classification table.
type Rules struct {
	Version  string   `json:"version"`
	Keywords []string `json:"keywords"`
	Patterns []string `json:"patterns"`
}

// Validate checks that the table can classify anything at all.
func (r Rules) Validate() error {
	if strings.TrimSpace(r.Version) == "" {
		return errors.New("rules version must be set")
	}
	if len(r.Keywords) == 0 && len(r.Patterns) == 0 {
		return errors.New("rules must define at least one keyword or pattern")
	}
	return nil
}

// DefaultRules returns the built-in table.
func DefaultRules() Rules {
	return Rules{
		Version: "v1",
		Keywords: []string{
			"circulation",
			"stationnement",
			"rue",
			"avenue",
			"boulevard",
			"place",
			"quai",
			"pont",
			"voie",
			"chaussée",
			"fermeture",
			"interdiction de circuler",
			"déviation",
			"sens unique",
			"carrefour",
			"rond-point",
			"intersection",
			"trafic",
			"véhicule",
			"piétonne",
		},
		Patterns: []string{
			`fermeture (de|du|des) (la |l')?(rue|avenue|boulevard|place|quai|pont|voie)`,
			`arrêté de circulation`,
			`réglementation (temporaire )?de la circulation`,
			`circulation (et|ou) (le )?stationnement`,
		},
	}
}

const rulesSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "required": ["version"],
  "additionalProperties": false,
  "properties": {
    "version": {"type": "string", "minLength": 1},
    "keywords": {
      "type": "array",
      "items": {"type": "string", "minLength": 1},
      "uniqueItems": true
    },
    "patterns": {
      "type": "array",
      "items": {"type": "string", "minLength": 1}
    }
  },
  "anyOf": [
    {"required": ["keywords"], "properties": {"keywords": {"minItems": 1}}},
    {"required": ["patterns"], "properties": {"patterns": {"minItems": 1}}}
  ]
}`

// LoadRules reads and validates a JSON rule table.
func LoadRules(path string) (Rules, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Rules{}, fmt.Errorf("read rules: %w", err)
	}
	return ParseRules(data)
}

// ParseRules validates data against the rule table schema and decodes it.
func ParseRules(data []byte) (Rules, error) {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("rules.json", strings.NewReader(rulesSchema)); err != nil {
		return Rules{}, fmt.Errorf("add schema: %w", err)
	}
	schema, err := compiler.Compile("rules.json")
	if err != nil {
		return Rules{}, fmt.Errorf("compile schema: %w", err)
	}
	var doc any
	if err := json.Unmarshal(data, &doc); err != nil {
		return Rules{}, fmt.Errorf("unmarshal rules: %w", err)
	}
	if err := schema.Validate(doc); err != nil {
		return Rules{}, fmt.Errorf("rules do not match schema: %w", err)
	}

	var rules Rules
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&rules); err != nil {
		return Rules{}, fmt.Errorf("decode rules: %w", err)
	}
	return rules, nil
}
