package tools

import (
	"context"
	"sort"
	"strconv"
)

// AddInput is the argument object of the add tool.
type AddInput struct {
	A int `json:"a" jsonschema_description:"First integer."`
	B int `json:"b" jsonschema_description:"Second integer."`
}

// Add returns the add tool: the sum of two integers.
func Add() Binding {
	return MustFunc("add", "Add two integers and return the sum.",
		func(_ context.Context, in AddInput) (string, error) {
			return strconv.Itoa(in.A + in.B), nil
		})
}

var builtins = map[string]func() Binding{
	"add": Add,
}

// Builtin returns the in-process tool with the given name.
func Builtin(name string) (Binding, bool) {
	f, ok := builtins[name]
	if !ok {
		return Binding{}, false
	}
	return f(), true
}

// BuiltinNames lists the in-process tools, sorted.
func BuiltinNames() []string {
	names := make([]string, 0, len(builtins))
	for name := range builtins {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
