package bf_test

import (
	"testing"

	"github.com/digideskio/bf/bf"
	"github.com/digideskio/bf/utils"
)

func TestProgram_Strip(t *testing.T) {
	input := "++\n\n--<    >.,[hello sailor]"
	expected := "++--<>.,[]"
	result := bf.Strip(bf.Program(input))
	utils.AssertEqual(t, string(result), expected)
}

func TestProgram_IsCommand(t *testing.T) {
	for _, b := range []byte("+-<>.,[]") {
		utils.Assert(t, bf.IsCommand(b), "Expected a command byte")
	}
	for _, b := range []byte(" \n\x00abc01") {
		utils.Assert(t, !bf.IsCommand(b), "Expected an inert byte")
	}
}

func TestProgram_MatchForward(t *testing.T) {
	p := bf.Program("[+[--]x]")
	end, err := p.MatchForward(0)
	utils.AssertNoError(t, err)
	utils.AssertEqual(t, end, 7)
	end, err = p.MatchForward(2)
	utils.AssertNoError(t, err)
	utils.AssertEqual(t, end, 5)
}

func TestProgram_MatchForwardUnclosed(t *testing.T) {
	p := bf.Program("[[]")
	_, err := p.MatchForward(0)
	utils.AssertErrorIs(t, err, bf.ErrUnmatchedBracket)
}

func TestProgram_MatchBackward(t *testing.T) {
	p := bf.Program("[+[--]x]")
	start, err := p.MatchBackward(7)
	utils.AssertNoError(t, err)
	utils.AssertEqual(t, start, 0)
	start, err = p.MatchBackward(5)
	utils.AssertNoError(t, err)
	utils.AssertEqual(t, start, 2)
}

func TestProgram_MatchBackwardUnopened(t *testing.T) {
	p := bf.Program("+]]")
	_, err := p.MatchBackward(1)
	utils.AssertErrorIs(t, err, bf.ErrUnmatchedBracket)
}

func TestProgram_MatchSkipsInertBytes(t *testing.T) {
	p := bf.Program("[ any text without commands ]")
	end, err := p.MatchForward(0)
	utils.AssertNoError(t, err)
	utils.AssertEqual(t, end, len(p)-1)
}

func TestProgram_CheckValid(t *testing.T) {
	for _, src := range []string{"", "+-<>.,", "[]", "[[-]+]", "+[>[]<-]", "[][[]]"} {
		utils.AssertNoError(t, bf.Program(src).Check())
	}
}

func TestProgram_CheckUnmatched(t *testing.T) {
	for _, src := range []string{"[", "]", "[[]", "[]]", "][", "+["} {
		utils.AssertErrorIs(t, bf.Program(src).Check(), bf.ErrUnmatchedBracket)
	}
}
