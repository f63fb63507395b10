package jewel

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func lex(t *testing.T, src string) []Token {
	t.Helper()
	l := newLexer("test.jc", []byte(src), false)
	tokens := l.tokenize()
	require.Empty(t, l.errs)
	return tokens
}

func TestLexerBasicTokens(t *testing.T) {
	tokens := lex(t, "function int main() { return 42; }")
	kinds := make([]tokenKind, len(tokens))
	for i, tok := range tokens {
		kinds[i] = tok.Kind
	}
	assert.Equal(t, []tokenKind{
		tkFunction, tkIdentifier, tkIdentifier, tkLeftParen, tkRightParen,
		tkLeftBrace, tkReturn, tkIntLiteral, tkSemicolon, tkRightBrace,
	}, kinds)
	assert.Equal(t, int64(42), tokens[7].Int)
}

func TestLexerIntegerBases(t *testing.T) {
	tokens := lex(t, "0b101 0n123 0o17 0x1F 42")
	require.Len(t, tokens, 5)
	assert.Equal(t, int64(5), tokens[0].Int)
	assert.Equal(t, int64(27), tokens[1].Int)
	assert.Equal(t, int64(15), tokens[2].Int)
	assert.Equal(t, int64(31), tokens[3].Int)
	assert.Equal(t, int64(42), tokens[4].Int)
}

func TestLexerFloats(t *testing.T) {
	tokens := lex(t, "1.5 2e3 7")
	require.Len(t, tokens, 3)
	assert.Equal(t, tkFloatLiteral, tokens[0].Kind)
	assert.Equal(t, 1.5, tokens[0].Float)
	assert.Equal(t, tkFloatLiteral, tokens[1].Kind)
	assert.Equal(t, 2000.0, tokens[1].Float)
	assert.Equal(t, tkIntLiteral, tokens[2].Kind)
}

func TestLexerDefaultFloatOption(t *testing.T) {
	l := newLexer("test.jc", []byte("42"), true)
	tokens := l.tokenize()
	require.Len(t, tokens, 1)
	assert.Equal(t, tkFloatLiteral, tokens[0].Kind)
	assert.Equal(t, 42.0, tokens[0].Float)
}

func TestLexerStrings(t *testing.T) {
	// commas keep the literals from concatenating
	tokens := lex(t, `"a\x41\n", @"c:\temp", /"slashed"/`)
	require.Len(t, tokens, 5)
	assert.Equal(t, "aA\n", tokens[0].Text)
	assert.Equal(t, `c:\temp`, tokens[2].Text)
	assert.Equal(t, "slashed", tokens[4].Text)
}

func TestLexerStringConcatenation(t *testing.T) {
	// adjacent literals concatenate, even across comment and form switch
	tokens := lex(t, "\"one\" /* x */ \"two\" @\"three\"")
	require.Len(t, tokens, 1)
	assert.Equal(t, "onetwothree", tokens[0].Text)
}

func TestLexerCharLiterals(t *testing.T) {
	tokens := lex(t, "'A' 'ab'")
	require.Len(t, tokens, 2)
	assert.Equal(t, int64(65), tokens[0].Int)
	assert.Equal(t, int64(0x6162), tokens[1].Int)
}

func TestLexerPositions(t *testing.T) {
	tokens := lex(t, "a\n\tb\r\nc")
	require.Len(t, tokens, 3)
	assert.Equal(t, 1, tokens[0].Line)
	assert.Equal(t, 1, tokens[0].Column)
	// tab advances the column to the next multiple of 4 plus one
	assert.Equal(t, 2, tokens[1].Line)
	assert.Equal(t, 5, tokens[1].Column)
	// CRLF counts as one newline
	assert.Equal(t, 3, tokens[2].Line)
	assert.Equal(t, 1, tokens[2].Column)
}

func TestLexerComments(t *testing.T) {
	tokens := lex(t, "a // line\nb # hash\nc /* block\nblock */ d")
	require.Len(t, tokens, 4)
	assert.Equal(t, "d", tokens[3].Text)
	assert.Equal(t, 4, tokens[3].Line)
}

func TestLexerUnterminatedComment(t *testing.T) {
	l := newLexer("test.jc", []byte("a /* never closed"), false)
	l.tokenize()
	require.Len(t, l.errs, 1)
	assert.Equal(t, ErrUnterminatedComment, l.errs[0].Code)
}

func TestLexerCharacterValueTooLarge(t *testing.T) {
	l := newLexer("test.jc", []byte(`"\x1FF"`), false)
	l.tokenize()
	require.NotEmpty(t, l.errs)
	assert.Equal(t, ErrCharacterValueTooLarge, l.errs[0].Code)
}

func TestTokenStreamSeekReversible(t *testing.T) {
	tokens := lex(t, "function int main() { return 1 + 2; }")
	ts := &tokenStream{tokens: tokens}
	for i := range tokens {
		ts.seek(i)
		first := ts.next()
		ts.seek(i)
		second := ts.next()
		assert.Equal(t, first, second)
	}
}

func TestLexerOperatorsLongestMatch(t *testing.T) {
	tokens := lex(t, "<<= << <= < => = ==")
	kinds := make([]tokenKind, len(tokens))
	for i, tok := range tokens {
		kinds[i] = tok.Kind
	}
	assert.Equal(t, []tokenKind{
		tkShlAssign, tkShiftLeft, tkLessEqual, tkLess, tkLambda, tkAssign, tkEqual,
	}, kinds)
}
