package utils

import (
	"testing"
)

func TestTesting_CompareArrays(t *testing.T) {
	a := []int{1, 2, 3, 4, 5}
	b := []int{1, 2, 3, 4, 5}
	Assert(t, CompareArrays(a, b), "Arrays are not equal")
}

func TestTesting_CompareArrays_DifferentOrder(t *testing.T) {
	a := []int{1, 2, 3, 4, 5}
	b := []int{5, 4, 3, 2, 1}
	Assert(t, !CompareArrays(a, b), "Arrays are equal")
}

func TestTesting_CompareArrays_DifferentLengths(t *testing.T) {
	a := []int{1, 2, 3, 4, 5}
	b := []int{1, 2, 3, 4}
	Assert(t, !CompareArrays(a, b), "Arrays are equal")
}

func TestTesting_CompareArrays_Empty(t *testing.T) {
	Assert(t, CompareArrays([]byte{}, []byte{}), "Arrays are not equal")
	Assert(t, CompareArrays(nil, []byte{}), "Arrays are not equal")
}
