package password

import (
	"context"
	"crypto/rand"
	"errors"
	"math/big"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	rerrors "github.com/systmms/pgrotate/internal/errors"
)

// alphabetSource draws uniformly from every character the policy allows and
// retries until the class requirement holds.
type alphabetSource struct{}

func (alphabetSource) GenerateRandomSecret(_ context.Context, p Policy) (string, error) {
	var alphabet []rune
	for r := rune(33); r < 127; r++ {
		if strings.ContainsRune(p.ExcludeCharacters, r) || p.excluded(classOf(r)) {
			continue
		}
		alphabet = append(alphabet, r)
	}

	for attempt := 0; attempt < 100; attempt++ {
		out := make([]rune, p.Length)
		for i := range out {
			n, err := rand.Int(rand.Reader, big.NewInt(int64(len(alphabet))))
			if err != nil {
				return "", err
			}
			out[i] = alphabet[n.Int64()]
		}
		if p.Check(string(out)) == nil {
			return string(out), nil
		}
	}
	return "", errors.New("could not satisfy policy")
}

type fixedSource struct {
	value string
	err   error
}

func (f fixedSource) GenerateRandomSecret(context.Context, Policy) (string, error) {
	return f.value, f.err
}

func TestDefaultPolicy(t *testing.T) {
	t.Parallel()

	p := DefaultPolicy()
	assert.Equal(t, 32, p.Length)
	assert.Equal(t, `:/@"'\`, p.ExcludeCharacters)
	assert.True(t, p.RequireEachIncludedType)
	assert.False(t, p.ExcludeNumbers)
	require.NoError(t, p.Validate())
}

func TestPolicyValidate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		mutate  func(*Policy)
		wantErr string
	}{
		{"zero length", func(p *Policy) { p.Length = 0 }, "between 1 and 4096"},
		{"too long", func(p *Policy) { p.Length = 5000 }, "between 1 and 4096"},
		{"all classes excluded", func(p *Policy) {
			p.ExcludeNumbers, p.ExcludePunctuation, p.ExcludeUppercase, p.ExcludeLowercase = true, true, true, true
		}, "every character class"},
		{"too short for classes", func(p *Policy) { p.Length = 3 }, "too short"},
		{"short without requirement", func(p *Policy) { p.Length = 3; p.RequireEachIncludedType = false }, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := DefaultPolicy()
			tt.mutate(&p)
			err := p.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			var ve *rerrors.ValidationError
			require.ErrorAs(t, err, &ve)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestGenerate_ExcludeNumbers(t *testing.T) {
	t.Parallel()

	p := DefaultPolicy()
	p.ExcludeNumbers = true
	g := NewGenerator(p, alphabetSource{})

	for i := 0; i < 50; i++ {
		pw, err := g.Generate(context.Background())
		require.NoError(t, err)
		assert.Len(t, pw, 32)
		assert.False(t, strings.ContainsAny(pw, "0123456789"), "password contains a digit")
		assert.False(t, strings.ContainsAny(pw, DefaultExcludeCharacters), "password contains an excluded character")
	}
}

func TestGenerate_ReturnsSourceValueUnmodified(t *testing.T) {
	t.Parallel()

	p := Policy{Length: 8, ExcludePunctuation: true, RequireEachIncludedType: true}
	g := NewGenerator(p, fixedSource{value: "aB3dE5gH"})

	pw, err := g.Generate(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "aB3dE5gH", pw)
}

func TestGenerate_RejectsContractViolations(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		policy Policy
		value  string
		reason string
	}{
		{"wrong length", Policy{Length: 4}, "abc", "expected 4 characters"},
		{"excluded character", Policy{Length: 4, ExcludeCharacters: "@"}, "ab@d", "excluded character"},
		{"excluded class", Policy{Length: 4, ExcludeNumbers: true}, "ab1d", "number character"},
		{"missing class", Policy{Length: 4, ExcludePunctuation: true, RequireEachIncludedType: true}, "abcD", "no number"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := NewGenerator(tt.policy, fixedSource{value: tt.value})

			_, err := g.Generate(context.Background())
			var ve *rerrors.ValidationError
			require.ErrorAs(t, err, &ve)
			assert.Contains(t, err.Error(), tt.reason)
			assert.NotContains(t, err.Error(), tt.value)
		})
	}
}

func TestGenerate_SourceError(t *testing.T) {
	t.Parallel()

	cause := &rerrors.StoreError{Message: "GetRandomPassword failed"}
	g := NewGenerator(DefaultPolicy(), fixedSource{err: cause})

	_, err := g.Generate(context.Background())
	assert.ErrorIs(t, err, cause)
}

func TestCheck_PunctuationFullyExcluded(t *testing.T) {
	t.Parallel()

	p := Policy{Length: 3, ExcludeCharacters: Punctuation, RequireEachIncludedType: true}
	assert.NoError(t, p.Check("aB3"))
}
