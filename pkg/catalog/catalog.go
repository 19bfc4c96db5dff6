// Package catalog knows the curated set of downloadable models and installs
// them into the models directory.
package catalog

import (
	"fmt"
	"sort"
)

// Entry is one downloadable model.
type Entry struct {
	Name         string
	Repo         string
	File         string
	Family       string
	Template     string
	Quantization string
	ContextSize  int
	// SizeBytes is the approximate download size, used for the free-space
	// check before downloading.
	SizeBytes   int64
	Description string
}

const gib = 1 << 30

var entries = map[string]Entry{
	"tinyllama-1.1b": {
		Name:         "tinyllama-1.1b",
		Repo:         "TheBloke/TinyLlama-1.1B-Chat-v1.0-GGUF",
		File:         "tinyllama-1.1b-chat-v1.0.Q4_K_M.gguf",
		Family:       "llama",
		Template:     "llama",
		Quantization: "Q4_K_M",
		ContextSize:  2048,
		SizeBytes:    1 * gib,
		Description:  "TinyLlama 1.1B chat, fast and small",
	},
	"phi-2": {
		Name:         "phi-2",
		Repo:         "TheBloke/phi-2-GGUF",
		File:         "phi-2.Q4_K_M.gguf",
		Family:       "phi",
		Template:     "phi",
		Quantization: "Q4_K_M",
		ContextSize:  2048,
		SizeBytes:    2 * gib,
		Description:  "Microsoft Phi-2 2.7B",
	},
	"llama3-8b": {
		Name:         "llama3-8b",
		Repo:         "QuantFactory/Meta-Llama-3-8B-Instruct-GGUF",
		File:         "Meta-Llama-3-8B-Instruct.Q4_K_M.gguf",
		Family:       "llama",
		Template:     "llama3",
		Quantization: "Q4_K_M",
		ContextSize:  8192,
		SizeBytes:    5 * gib,
		Description:  "Meta Llama 3 8B instruct",
	},
	"mistral-7b": {
		Name:         "mistral-7b",
		Repo:         "TheBloke/Mistral-7B-Instruct-v0.2-GGUF",
		File:         "mistral-7b-instruct-v0.2.Q4_K_M.gguf",
		Family:       "mistral",
		Template:     "mistral",
		Quantization: "Q4_K_M",
		ContextSize:  8192,
		SizeBytes:    5 * gib,
		Description:  "Mistral 7B instruct v0.2",
	},
	"qwen-1.8b": {
		Name:         "qwen-1.8b",
		Repo:         "Qwen/Qwen1.5-1.8B-Chat-GGUF",
		File:         "qwen1_5-1_8b-chat-q4_k_m.gguf",
		Family:       "qwen",
		Template:     "chatml",
		Quantization: "Q4_K_M",
		ContextSize:  32768,
		SizeBytes:    2 * gib,
		Description:  "Qwen 1.5 1.8B chat",
	},
}

// Entries returns the catalog sorted by name.
func Entries() []Entry {
	out := make([]Entry, 0, len(entries))
	for _, e := range entries {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Find returns one catalog entry by name.
func Find(name string) (Entry, bool) {
	e, ok := entries[name]
	return e, ok
}

// UnknownEntryError reports a pull of a model the catalog does not carry.
type UnknownEntryError struct {
	Name string
}

func (e *UnknownEntryError) Error() string {
	names := make([]string, 0, len(entries))
	for name := range entries {
		names = append(names, name)
	}
	sort.Strings(names)
	return fmt.Sprintf("model %q is not in the catalog; available: %v", e.Name, names)
}
