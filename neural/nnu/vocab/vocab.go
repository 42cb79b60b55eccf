package vocab

import (
	"encoding/gob"
	"fmt"
	"log"
	"os"
	"sort"
	"strings"
	"unicode"

	"github.com/golangast/gpt/neural/nn"
)

// EOS marks the end of a sequence.
const EOS = "</s>"

// Vocab maps words to token IDs and back. IDs are positions in Words.
type Vocab struct {
	Words    []string
	WordToID map[string]int
}

// Stats summarises a vocabulary.
type Stats struct {
	TotalWords int
	HasEOS     bool
	HasUnknown bool
}

// New creates a vocabulary whose IDs follow the order of words.
func New(words []string) *Vocab {
	if len(words) == 0 {
		log.Println("Warning: creating vocabulary with no words")
	}
	v := &Vocab{
		Words:    append([]string(nil), words...),
		WordToID: make(map[string]int, len(words)),
	}
	for i, w := range v.Words {
		v.WordToID[w] = i
	}
	return v
}

// Default returns the small built-in vocabulary.
func Default() *Vocab {
	return New([]string{"hello", "world", "this", "is", "rust", EOS})
}

// FromTexts builds a sorted vocabulary from every token appearing in texts.
// EOS is always included.
func FromTexts(texts []string) *Vocab {
	set := map[string]struct{}{EOS: {}}
	for _, text := range texts {
		for _, tok := range splitTokens(text) {
			set[tok] = struct{}{}
		}
	}
	words := make([]string, 0, len(set))
	for w := range set {
		words = append(words, w)
	}
	sort.Strings(words)
	return New(words)
}

// splitTokens splits text on whitespace and peels every ASCII punctuation
// character off into its own token. EOS stays whole.
func splitTokens(text string) []string {
	var out []string
	for _, word := range strings.Fields(text) {
		if word == EOS {
			out = append(out, word)
			continue
		}
		var current strings.Builder
		for _, r := range word {
			if isASCIIPunct(r) {
				if current.Len() > 0 {
					out = append(out, current.String())
					current.Reset()
				}
				out = append(out, string(r))
				continue
			}
			current.WriteRune(r)
		}
		if current.Len() > 0 {
			out = append(out, current.String())
		}
	}
	return out
}

func isASCIIPunct(r rune) bool {
	return r <= unicode.MaxASCII && (unicode.IsPunct(r) || unicode.IsSymbol(r))
}

// Tokenize converts text into token IDs. Words missing from the vocabulary are dropped.
func (v *Vocab) Tokenize(text string) []int {
	var ids []int
	for _, tok := range splitTokens(text) {
		if id, ok := v.WordToID[tok]; ok {
			ids = append(ids, id)
		}
	}
	return ids
}

// Encode returns the ID of word.
func (v *Vocab) Encode(word string) (int, bool) {
	id, ok := v.WordToID[word]
	return id, ok
}

// EncodeOrError is Encode with an nn.ErrToken failure.
func (v *Vocab) EncodeOrError(word string) (int, error) {
	id, ok := v.WordToID[word]
	if !ok {
		return 0, fmt.Errorf("unknown token %q: %w", word, nn.ErrToken)
	}
	return id, nil
}

// Decode returns the word for id.
func (v *Vocab) Decode(id int) (string, bool) {
	if id < 0 || id >= len(v.Words) {
		return "", false
	}
	return v.Words[id], true
}

// DecodeOrError is Decode with an nn.ErrToken failure.
func (v *Vocab) DecodeOrError(id int) (string, error) {
	w, ok := v.Decode(id)
	if !ok {
		return "", fmt.Errorf("unknown token id %d: %w", id, nn.ErrToken)
	}
	return w, nil
}

func (v *Vocab) Size() int { return len(v.Words) }

// Contains reports whether word is in the vocabulary.
func (v *Vocab) Contains(word string) bool {
	_, ok := v.WordToID[word]
	return ok
}

// EOSID returns the ID of EOS and whether the vocabulary has it.
func (v *Vocab) EOSID() (int, bool) {
	return v.Encode(EOS)
}

func (v *Vocab) Stats() Stats {
	return Stats{
		TotalWords: len(v.Words),
		HasEOS:     v.Contains(EOS),
		HasUnknown: v.Contains("<unk>"),
	}
}

// String lists the vocabulary as (id,word) pairs.
func (v *Vocab) String() string {
	var b strings.Builder
	for i, w := range v.Words {
		fmt.Fprintf(&b, "(%d,%s),", i, w)
	}
	return b.String()
}

// Save saves the vocabulary to a file in Gob format.
func (v *Vocab) Save(filePath string) error {
	file, err := os.Create(filePath)
	if err != nil {
		return fmt.Errorf("failed to create vocabulary file: %w", err)
	}
	defer file.Close()

	if err := gob.NewEncoder(file).Encode(v.Words); err != nil {
		return fmt.Errorf("failed to encode vocabulary: %v: %w", err, nn.ErrSerialization)
	}
	return nil
}

// Load loads a vocabulary saved with Save.
func Load(filePath string) (*Vocab, error) {
	file, err := os.Open(filePath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("vocabulary file not found at %s: %w", filePath, err)
		}
		return nil, fmt.Errorf("failed to open vocabulary file: %w", err)
	}
	defer file.Close()

	var words []string
	if err := gob.NewDecoder(file).Decode(&words); err != nil {
		return nil, fmt.Errorf("failed to decode vocabulary: %v: %w", err, nn.ErrSerialization)
	}
	return New(words), nil
}
