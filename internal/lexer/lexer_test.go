package lexer

import (
	"testing"

	"github.com/cyphersql/graphsql/internal/token"
)

func TestLexer_BasicTokens(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected []token.Type
	}{
		{
			name:     "empty input",
			input:    "",
			expected: []token.Type{token.EOF},
		},
		{
			name:  "clause keywords",
			input: "MATCH OPTIONAL WHERE RETURN WITH UNWIND",
			expected: []token.Type{
				token.MATCH, token.OPTIONAL, token.WHERE, token.RETURN, token.WITH, token.UNWIND, token.EOF,
			},
		},
		{
			name:  "keywords are case-insensitive",
			input: "match Where return",
			expected: []token.Type{
				token.MATCH, token.WHERE, token.RETURN, token.EOF,
			},
		},
		{
			name:  "operators",
			input: "= <> < > <= >= + - * / % ^",
			expected: []token.Type{
				token.EQ, token.NEQ, token.LT, token.GT, token.LTE, token.GTE,
				token.PLUS, token.DASH, token.STAR, token.SLASH, token.PERCENT, token.CARET, token.EOF,
			},
		},
		{
			name:  "range and arrows",
			input: ". .. -> <-",
			expected: []token.Type{
				token.DOT, token.DOTDOT, token.ARROW, token.LARROW, token.EOF,
			},
		},
		{
			name:  "delimiters",
			input: "{ } ( ) [ ] , ; |",
			expected: []token.Type{
				token.LBRACE, token.RBRACE, token.LPAREN, token.RPAREN,
				token.LBRACKET, token.RBRACKET, token.COMMA, token.SEMICOLON, token.PIPE, token.EOF,
			},
		},
		{
			name:  "parameter reference",
			input: "$userId",
			expected: []token.Type{
				token.PARAM, token.EOF,
			},
		},
		{
			name:  "literals",
			input: `42 3.14 "hi" true false null`,
			expected: []token.Type{
				token.INT, token.FLOAT, token.STRING, token.TRUE, token.FALSE, token.NULL, token.EOF,
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tokens, _ := Tokenize(tt.input, "test.cypher")
			if len(tokens) != len(tt.expected) {
				t.Fatalf("got %d tokens, want %d: %v", len(tokens), len(tt.expected), tokens)
			}
			for i, tok := range tokens {
				if tok.Type != tt.expected[i] {
					t.Errorf("token %d: got %s, want %s", i, tok.Type, tt.expected[i])
				}
			}
		})
	}
}

func TestLexer_StringEscapes(t *testing.T) {
	tokens, d := Tokenize(`"line1\nline2\t\\end"`, "test.cypher")
	if d.HasErrors() {
		t.Fatalf("unexpected errors: %v", d.Errors())
	}
	if tokens[0].Literal != "line1\nline2\t\\end" {
		t.Errorf("got %q", tokens[0].Literal)
	}
}

func TestLexer_UnterminatedString(t *testing.T) {
	_, d := Tokenize(`"unterminated`, "test.cypher")
	if !d.HasErrors() {
		t.Fatal("expected an error for unterminated string")
	}
}

func TestLexer_DottedFunctionName(t *testing.T) {
	tokens, d := Tokenize("ch.arrayMap(x -> x + 1, col)", "test.cypher")
	if d.HasErrors() {
		t.Fatalf("unexpected errors: %v", d.Errors())
	}
	if tokens[0].Type != token.IDENT || tokens[0].Literal != "ch.arrayMap" {
		t.Errorf("got %s %q, want IDENT \"ch.arrayMap\"", tokens[0].Type, tokens[0].Literal)
	}
}

func TestLexer_PropertyAccessIsNotDotted(t *testing.T) {
	tokens, d := Tokenize("n.name", "test.cypher")
	if d.HasErrors() {
		t.Fatalf("unexpected errors: %v", d.Errors())
	}
	want := []token.Type{token.IDENT, token.DOT, token.IDENT, token.EOF}
	if len(tokens) != len(want) {
		t.Fatalf("got %d tokens, want %d: %v", len(tokens), len(want), tokens)
	}
	for i, tok := range tokens {
		if tok.Type != want[i] {
			t.Errorf("token %d: got %s, want %s", i, tok.Type, want[i])
		}
	}
}

func TestLexer_VariableLengthRange(t *testing.T) {
	tokens, d := Tokenize("*1..5", "test.cypher")
	if d.HasErrors() {
		t.Fatalf("unexpected errors: %v", d.Errors())
	}
	want := []token.Type{token.STAR, token.INT, token.DOTDOT, token.INT, token.EOF}
	for i, tok := range tokens {
		if tok.Type != want[i] {
			t.Errorf("token %d: got %s, want %s", i, tok.Type, want[i])
		}
	}
}

func TestLexer_LineComment(t *testing.T) {
	tokens, d := Tokenize("MATCH // trailing comment\nRETURN", "test.cypher")
	if d.HasErrors() {
		t.Fatalf("unexpected errors: %v", d.Errors())
	}
	want := []token.Type{token.MATCH, token.RETURN, token.EOF}
	if len(tokens) != len(want) {
		t.Fatalf("got %d tokens, want %d", len(tokens), len(want))
	}
}
