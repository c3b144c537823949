package expressions

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/clienthub/automation/internal/secrets"
	"github.com/clienthub/automation/pkg/schema"
)

// Interpolator resolves {{...}} placeholders in message templates, webhook
// bodies, and headers. Two-pass: first resolves non-secret variables, second
// resolves secrets via the vault.
//
// Supported namespaces: client, trigger, actor, now, steps, secrets.
type Interpolator struct {
	vault secrets.Vault
}

// NewInterpolator creates a new Interpolator with an optional Vault for
// secret resolution (nil = secrets unavailable).
func NewInterpolator(vault secrets.Vault) *Interpolator {
	return &Interpolator{vault: vault}
}

// Resolve performs two-pass interpolation on raw JSON.
// Pass 1: resolves client.*, trigger.*, actor.*, now.*, steps.* references.
// Pass 2: resolves secrets.* references via the Vault.
func (interp *Interpolator) Resolve(ctx context.Context, raw json.RawMessage, scope *Scope) (json.RawMessage, error) {
	if len(raw) == 0 {
		return raw, nil
	}
	resolved, err := interp.ResolveString(ctx, string(raw), scope)
	if err != nil {
		return nil, err
	}
	return json.RawMessage(resolved), nil
}

// ResolveString interpolates placeholders in a plain string (template
// subject/body, header value).
func (interp *Interpolator) ResolveString(ctx context.Context, input string, scope *Scope) (string, error) {
	// Pass 1: non-secret variables.
	resolved, err := interp.resolvePass(ctx, input, scope, false)
	if err != nil {
		return "", err
	}

	// Pass 2: secrets only.
	return interp.resolvePass(ctx, resolved, scope, true)
}

// resolvePass scans for {{...}} tokens and resolves them.
// If secretPass is false, it resolves everything except secrets.* and leaves
// secrets untouched. If secretPass is true, it only resolves secrets.*.
func (interp *Interpolator) resolvePass(ctx context.Context, input string, scope *Scope, secretPass bool) (string, error) {
	var result strings.Builder
	result.Grow(len(input))

	i := 0
	for i < len(input) {
		idx := strings.Index(input[i:], "{{")
		if idx == -1 {
			result.WriteString(input[i:])
			break
		}

		// Write everything before the marker.
		result.WriteString(input[i : i+idx])
		start := i + idx + 2 // skip "{{"

		end := strings.Index(input[start:], "}}")
		if end == -1 {
			return "", schema.NewError(schema.ErrCodeInterpolation, "unclosed {{ placeholder")
		}
		end += start

		expr := strings.TrimSpace(input[start:end])

		// Reject recursive interpolation: no nested {{ inside the placeholder.
		if strings.Contains(expr, "{{") {
			return "", schema.NewError(schema.ErrCodeInterpolation,
				"nested interpolation not allowed: {{...}} cannot contain {{")
		}

		if expr == "" {
			return "", schema.NewError(schema.ErrCodeInterpolation, "empty placeholder: {{  }}")
		}

		isSecret := strings.HasPrefix(expr, "secrets.")

		if secretPass != isSecret {
			// Wrong pass for this token — write it back unchanged.
			result.WriteString(input[i+idx : end+2])
			i = end + 2
			continue
		}

		val, err := interp.resolveExpr(ctx, expr, scope)
		if err != nil {
			return "", err
		}

		result.WriteString(marshalInline(val))
		i = end + 2 // skip "}}"
	}

	return result.String(), nil
}

// resolveExpr resolves a single placeholder path like "client.name".
func (interp *Interpolator) resolveExpr(ctx context.Context, expr string, scope *Scope) (any, error) {
	if strings.HasPrefix(expr, "secrets.") {
		return interp.resolveSecret(ctx, expr)
	}

	parts := strings.SplitN(expr, ".", 2)
	namespace := parts[0]
	data := scope.Data()

	root, ok := data[namespace]
	if !ok {
		available := []string{"client", "trigger", "actor", "now", "steps", "secrets"}
		return nil, schema.NewErrorf(schema.ErrCodeInterpolation,
			"unknown namespace %q in {{%s}}; available: %s", namespace, expr, strings.Join(available, ", ")).
			WithDetails(map[string]any{"expression": expr, "available_namespaces": available})
	}

	// A bare namespace reference returns the whole object.
	if len(parts) == 1 {
		return root, nil
	}

	rootMap, _ := root.(map[string]any)
	if rootMap == nil {
		return nil, schema.NewErrorf(schema.ErrCodeInterpolation,
			"cannot resolve {{%s}}: %s scope is empty", expr, namespace).
			WithDetails(map[string]any{"expression": expr})
	}

	// Try direct key lookup first (supports keys with dots).
	if val, ok := rootMap[parts[1]]; ok {
		return val, nil
	}

	return traversePath(rootMap, parts[1], expr)
}

// resolveSecret resolves secrets.<key> via the Vault.
func (interp *Interpolator) resolveSecret(ctx context.Context, expr string) (any, error) {
	parts := strings.SplitN(expr, ".", 2)
	if len(parts) < 2 || parts[1] == "" {
		return nil, schema.NewErrorf(schema.ErrCodeInterpolation,
			"invalid secret reference %q: expected secrets.<KEY>", expr).
			WithDetails(map[string]any{"expression": expr})
	}

	key := parts[1]

	if interp.vault == nil {
		return nil, schema.NewErrorf(schema.ErrCodeInterpolation,
			"cannot resolve secret %q: no vault configured", key).
			WithDetails(map[string]any{"expression": expr})
	}

	val, err := interp.vault.Resolve(ctx, key)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeInterpolation,
			"failed to resolve secret %q: %s", key, err.Error()).
			WithDetails(map[string]any{"expression": expr}).WithCause(err)
	}

	return string(val), nil
}

// traversePath navigates into nested maps using a dot-delimited path.
func traversePath(root any, path, expr string) (any, error) {
	segments := strings.Split(path, ".")
	current := root

	for i, seg := range segments {
		if seg == "" {
			return nil, schema.NewErrorf(schema.ErrCodeInterpolation,
				"empty segment in path %q at position %d", expr, i).
				WithDetails(map[string]any{"expression": expr})
		}

		switch v := current.(type) {
		case map[string]any:
			val, ok := v[seg]
			if !ok {
				availableKeys := mapKeys(v)
				return nil, schema.NewErrorf(schema.ErrCodeInterpolation,
					"field %q not found in {{%s}}; available: [%s]", seg, expr, strings.Join(availableKeys, ", ")).
					WithDetails(map[string]any{"expression": expr, "available_fields": availableKeys})
			}
			current = val
		default:
			return nil, schema.NewErrorf(schema.ErrCodeInterpolation,
				"cannot traverse into non-object at %q in {{%s}} (type: %T)", seg, expr, current).
				WithDetails(map[string]any{"expression": expr})
		}
	}

	return current, nil
}

// marshalInline converts a resolved value into its inline string form.
// Strings are embedded without extra quotes; complex types are JSON-encoded.
func marshalInline(val any) string {
	switch v := val.(type) {
	case string:
		return v
	case nil:
		return "null"
	case bool:
		if v {
			return "true"
		}
		return "false"
	case float64:
		return fmt.Sprintf("%v", v)
	case int:
		return fmt.Sprintf("%d", v)
	case int64:
		return fmt.Sprintf("%d", v)
	case json.RawMessage:
		return string(v)
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprintf("%v", v)
		}
		return string(b)
	}
}

// mapKeys returns sorted keys from a map[string]any.
func mapKeys(m map[string]any) []string {
	if m == nil {
		return nil
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	for i := 1; i < len(keys); i++ {
		key := keys[i]
		j := i - 1
		for j >= 0 && keys[j] > key {
			keys[j+1] = keys[j]
			j--
		}
		keys[j+1] = key
	}
	return keys
}
