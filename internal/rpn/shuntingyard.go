package rpn

import (
	"github.com/shufengdong/sparrowzz-sub000/internal/domain"
)

type assoc int

const (
	leftAssoc assoc = iota
	rightAssoc
	naAssoc
)

// precAssoc returns the operator precedence and associativity for a
// token, per the table in spec.md §4.1.
func precAssoc(t Token) (int, assoc) {
	switch t.Kind {
	case KindBinary:
		switch t.Bin {
		case Or:
			return 3, leftAssoc
		case And:
			return 4, leftAssoc
		case BitOr:
			return 5, leftAssoc
		case BitXor:
			return 6, leftAssoc
		case BitAnd:
			return 7, leftAssoc
		case Eq, Neq:
			return 8, leftAssoc
		case Lt, Gt, Le, Ge:
			return 9, leftAssoc
		case Shl, Shr:
			return 10, leftAssoc
		case Add, Sub:
			return 11, leftAssoc
		case Mul, Div, Mod:
			return 12, leftAssoc
		case BitAt:
			return 13, leftAssoc
		case Pow:
			return 14, rightAssoc
		}
	case KindUnary:
		switch t.Un {
		case Pos, Neg, Not, BitNot:
			return 13, naAssoc
		case Fact:
			return 15, naAssoc
		}
	}
	return 0, naAssoc
}

// Compile tokenizes, shunting-yard converts, and validates src, returning
// a well-formed RPN token stream (spec.md §4.1). Position information in
// returned errors is a character index into src.
func Compile(src string) ([]Token, error) {
	raw, err := Tokenize(src)
	if err != nil {
		return nil, err
	}
	return ToRPN(raw)
}

// ToRPN converts a raw infix token stream to RPN via the shunting-yard
// algorithm, then validates arity/stack-balance as described in
// spec.md §4.1.
func ToRPN(input []infixTok) ([]Token, error) {
	output := make([]Token, 0, len(input))
	type stackEntry struct {
		pos      int
		tok      Token
		argStart int // len(output) when a Func/Tensor marker was pushed
		commas   int // comma separators seen so far for a Func/Tensor marker
	}
	var stack []stackEntry

	popStack := func() stackEntry {
		last := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		return last
	}

	// closeArity resolves the arity of a Func/Tensor marker at its
	// closing delimiter: zero if nothing was emitted since it opened
	// (an empty call or literal), otherwise one plus the comma count.
	closeArity := func(e stackEntry) int {
		if e.argStart == len(output) {
			return 0
		}
		return e.commas + 1
	}

	for _, it := range input {
		tok, pos := it.tok, it.pos
		switch tok.Kind {
		case KindNumber, KindVariable:
			output = append(output, tok)
		case KindUnary:
			stack = append(stack, stackEntry{pos: pos, tok: tok})
		case KindBinary:
			pa1, as1 := precAssoc(tok)
			for len(stack) > 0 {
				pa2, _ := precAssoc(stack[len(stack)-1].tok)
				if (as1 == leftAssoc && pa1 <= pa2) || (as1 == rightAssoc && pa1 < pa2) {
					output = append(output, popStack().tok)
					continue
				}
				break
			}
			stack = append(stack, stackEntry{pos: pos, tok: tok})
		case KindLParen:
			stack = append(stack, stackEntry{pos: pos, tok: tok})
		case KindRParen:
			found := false
			for len(stack) > 0 {
				e := popStack()
				if e.tok.Kind == KindLParen {
					found = true
					break
				}
				if e.tok.Kind == KindFunc {
					found = true
					output = append(output, withArity(e.tok, closeArity(e)))
					break
				}
				output = append(output, e.tok)
			}
			if !found {
				return nil, &domain.ParseError{Position: pos, Reason: "mismatched )"}
			}
		case KindRBracket:
			found := false
			for len(stack) > 0 {
				e := popStack()
				if e.tok.Kind == KindTensor {
					found = true
					output = append(output, withArity(e.tok, closeArity(e)))
					break
				}
				output = append(output, e.tok)
			}
			if !found {
				return nil, &domain.ParseError{Position: pos, Reason: "mismatched ]"}
			}
		case KindComma:
			found := false
			for len(stack) > 0 {
				e := popStack()
				if e.tok.Kind == KindLParen {
					return nil, &domain.ParseError{Position: pos, Reason: "unexpected ,"}
				}
				if e.tok.Kind == KindFunc || e.tok.Kind == KindTensor {
					found = true
					e.commas++
					stack = append(stack, e)
					break
				}
				output = append(output, e.tok)
			}
			if !found {
				return nil, &domain.ParseError{Position: pos, Reason: "unexpected ,"}
			}
		case KindTensor:
			// Empty literal "[]" — its RBracket will fire first in that
			// case, so a bare Tensor token here always opens a literal.
			stack = append(stack, stackEntry{pos: pos, tok: tok, argStart: len(output)})
		case KindFunc:
			stack = append(stack, stackEntry{pos: pos, tok: tok, argStart: len(output)})
		}
	}

	for len(stack) > 0 {
		e := popStack()
		switch e.tok.Kind {
		case KindUnary, KindBinary:
			output = append(output, e.tok)
		case KindFunc:
			return nil, &domain.ParseError{Position: e.pos, Reason: "unclosed function call"}
		case KindTensor:
			return nil, &domain.ParseError{Position: e.pos, Reason: "unclosed tensor literal"}
		case KindLParen:
			return nil, &domain.ParseError{Position: e.pos, Reason: "mismatched ("}
		default:
			return nil, &domain.ParseError{Position: e.pos, Reason: "unexpected token on stack"}
		}
	}

	if err := validate(output); err != nil {
		return nil, err
	}
	return output, nil
}

// validate checks that the RPN stream reduces on a single stack to
// exactly one value, per spec.md §3's well-formedness invariant.
func validate(output []Token) error {
	nOperands := 0
	for i, tok := range output {
		switch tok.Kind {
		case KindVariable, KindNumber:
			nOperands++
		case KindUnary:
			// no change
		case KindBinary:
			nOperands--
		case KindFunc, KindTensor:
			nOperands -= *tok.Arity - 1
		default:
			return &domain.ParseError{Position: i, Reason: "unexpected token in RPN stream"}
		}
		if nOperands <= 0 {
			return &domain.ParseError{Position: i, Reason: "not enough operands"}
		}
	}
	if nOperands > 1 {
		return &domain.ParseError{Position: len(output) - 1, Reason: "too many operands"}
	}
	return nil
}
