// Package provider wraps the text-generation backends that drive plan
// synthesis.
package provider

import "context"

// Generator produces a completion for a prompt.
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}
