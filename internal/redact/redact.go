// Package redact transforms annotated payload fields before serialization so
// sensitive values never leave the process in clear text. Fields opt in with
// a `redact` struct tag, e.g.
//
//	Email string `json:"email" redact:"strategy=mask,type=email,level=normal"`
//
// Supported strategies: mask, encrypt, hash. Payload values are never mutated
// in place; Apply returns a transformed shadow of the input.
package redact

import (
	"fmt"
	"reflect"
	"strings"

	"go.uber.org/zap"
)

// Strategy selects the transform applied to a field.
type Strategy string

const (
	StrategyNone    Strategy = ""
	StrategyMask    Strategy = "mask"
	StrategyEncrypt Strategy = "encrypt"
	StrategyHash    Strategy = "hash"
)

// Kind declares what a field semantically holds, which picks the masking
// rule set.
type Kind string

const (
	KindCustom     Kind = "custom"
	KindEmail      Kind = "email"
	KindPhone      Kind = "phone"
	KindName       Kind = "name"
	KindAddress    Kind = "address"
	KindSSN        Kind = "ssn"
	KindCreditCard Kind = "credit_card"
	KindIPAddress  Kind = "ip_address"
)

// Level tunes how aggressively a mask hides the value.
type Level string

const (
	LevelWeak   Level = "weak"
	LevelNormal Level = "normal"
	LevelStrong Level = "strong"
)

// Rule is a parsed `redact` tag.
type Rule struct {
	Strategy Strategy
	Kind     Kind
	Level    Level
}

func parseRule(tag string) (Rule, error) {
	rule := Rule{Kind: KindCustom, Level: LevelNormal}
	for _, part := range strings.Split(tag, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		key, value, found := strings.Cut(part, "=")
		if !found {
			return Rule{}, fmt.Errorf("redact: malformed tag element %q", part)
		}
		switch key {
		case "strategy":
			rule.Strategy = Strategy(strings.ToLower(value))
		case "type":
			rule.Kind = Kind(strings.ToLower(value))
		case "level":
			rule.Level = Level(strings.ToLower(value))
		default:
			return Rule{}, fmt.Errorf("redact: unknown tag key %q", key)
		}
	}
	switch rule.Strategy {
	case StrategyMask, StrategyEncrypt, StrategyHash:
	default:
		return Rule{}, fmt.Errorf("redact: unknown strategy %q", rule.Strategy)
	}
	return rule, nil
}

// Redactor applies per-field transforms during serialization.
type Redactor struct {
	cipher *Cipher
	hasher *Hasher
	logger *zap.Logger
}

// Config wires a Redactor.
type Config struct {
	// Key is the Base64-encoded AES key. Empty disables encryption; any
	// field declaring the encrypt strategy then fails with *CryptoError.
	Key string
	// Salt is prepended to values before hashing. An empty salt is allowed
	// but logged at construction.
	Salt string
	// KeyProvider, when set, switches encryption to envelope mode with a
	// fresh data key per value.
	KeyProvider KeyProvider
	Logger      *zap.Logger
}

// New builds a Redactor. It fails only on malformed key material; a missing
// key is deferred to first use so masking and hashing remain functional.
func New(cfg Config) (*Redactor, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	var cipher *Cipher
	if cfg.Key != "" || cfg.KeyProvider != nil {
		var err error
		cipher, err = NewCipher(cfg.Key, cfg.KeyProvider)
		if err != nil {
			return nil, err
		}
	}
	if cfg.Salt == "" {
		logger.Warn("redact: hash salt is empty; hashed values are vulnerable to rainbow tables")
	}
	return &Redactor{cipher: cipher, hasher: NewHasher(cfg.Salt), logger: logger}, nil
}

// Apply returns a shadow of payload with every tagged string field
// transformed. Untagged payloads are returned as-is. The result marshals to
// the same JSON shape as the input.
func (r *Redactor) Apply(payload any) (any, error) {
	if payload == nil {
		return nil, nil
	}
	v := reflect.ValueOf(payload)
	for v.Kind() == reflect.Pointer {
		if v.IsNil() {
			return payload, nil
		}
		v = v.Elem()
	}
	if v.Kind() != reflect.Struct {
		return payload, nil
	}
	if !hasRedactTags(v.Type()) {
		return payload, nil
	}
	return r.applyStruct(v)
}

func hasRedactTags(t reflect.Type) bool {
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		if _, ok := f.Tag.Lookup("redact"); ok {
			return true
		}
		ft := f.Type
		for ft.Kind() == reflect.Pointer {
			ft = ft.Elem()
		}
		if ft.Kind() == reflect.Struct && ft != t && hasRedactTags(ft) {
			return true
		}
	}
	return false
}

func (r *Redactor) applyStruct(v reflect.Value) (map[string]any, error) {
	t := v.Type()
	out := make(map[string]any, t.NumField())
	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		if !field.IsExported() {
			continue
		}
		name, omitEmpty, skip := jsonName(field)
		if skip {
			continue
		}
		fv := v.Field(i)
		if omitEmpty && fv.IsZero() {
			continue
		}

		tag, tagged := field.Tag.Lookup("redact")
		if tagged && tag != "" {
			if fv.Kind() != reflect.String {
				return nil, fmt.Errorf("redact: field %s.%s is tagged but not a string", t.Name(), field.Name)
			}
			rule, err := parseRule(tag)
			if err != nil {
				return nil, err
			}
			transformed, err := r.transform(fv.String(), rule)
			if err != nil {
				return nil, err
			}
			out[name] = transformed
			continue
		}

		inner := fv
		for inner.Kind() == reflect.Pointer && !inner.IsNil() {
			inner = inner.Elem()
		}
		if inner.Kind() == reflect.Struct && hasRedactTags(inner.Type()) {
			nested, err := r.applyStruct(inner)
			if err != nil {
				return nil, err
			}
			out[name] = nested
			continue
		}
		out[name] = fv.Interface()
	}
	return out, nil
}

func (r *Redactor) transform(value string, rule Rule) (string, error) {
	switch rule.Strategy {
	case StrategyMask:
		return Mask(value, rule.Kind, rule.Level), nil
	case StrategyHash:
		return r.hasher.Hash(value), nil
	case StrategyEncrypt:
		if r.cipher == nil {
			return "", &CryptoError{Reason: "encryption requested but no key configured; set PII_ENCRYPTION_KEY or Config.Key"}
		}
		return r.cipher.Encrypt(value)
	default:
		return value, nil
	}
}

// jsonName resolves the wire name of a struct field the way encoding/json
// does, minus the rarely-used options.
func jsonName(f reflect.StructField) (name string, omitEmpty, skip bool) {
	tag := f.Tag.Get("json")
	if tag == "-" {
		return "", false, true
	}
	name = f.Name
	value, opts, _ := strings.Cut(tag, ",")
	if value != "" {
		name = value
	}
	return name, strings.Contains(opts, "omitempty"), false
}
