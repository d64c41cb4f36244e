package events

import "fmt"

// UnaryOp enumerates the one-operand FHE16 operations.
type UnaryOp uint8

const (
	UnaryNot UnaryOp = iota
	UnaryAbs
	UnaryNeg

	unaryOpCount
)

var unaryOpNames = [...]string{
	UnaryNot: "NOT",
	UnaryAbs: "ABS",
	UnaryNeg: "NEG",
}

// Valid reports whether the op code is within the known range.
func (op UnaryOp) Valid() bool { return op < unaryOpCount }

// String implements fmt.Stringer.
func (op UnaryOp) String() string {
	if !op.Valid() {
		return fmt.Sprintf("UnaryOp(%d)", uint8(op))
	}
	return unaryOpNames[op]
}

// BinaryOp enumerates the two-operand FHE16 operations.
type BinaryOp uint8

const (
	// Logic
	BinaryAnd BinaryOp = iota
	BinaryOr
	BinaryXor
	// Arithmetic
	BinaryAdd
	BinarySub
	BinarySDiv
	// Comparison
	BinaryEq
	BinaryNeq
	BinaryGt
	BinaryGe
	BinaryLt
	BinaryLe
	BinaryMax
	BinaryMin
	BinaryMaxOrMin
	BinaryCompare
	// Vector
	BinaryOrVec
	BinaryAndVec
	BinaryXorVec
	// Shift
	BinaryLShiftL
	// Other
	BinarySMulL
	BinaryAddPowTwo
	BinarySubPowTwo
	BinaryGateTemplete
	BinaryPrefixTemplete
	BinaryAddPowTwoTemplete
	// Combined
	BinaryOrXor
	BinaryAndXor

	binaryOpCount
)

var binaryOpNames = [...]string{
	BinaryAnd:               "AND",
	BinaryOr:                "OR",
	BinaryXor:               "XOR",
	BinaryAdd:               "ADD",
	BinarySub:               "SUB",
	BinarySDiv:              "SDIV",
	BinaryEq:                "EQ",
	BinaryNeq:               "NEQ",
	BinaryGt:                "GT",
	BinaryGe:                "GE",
	BinaryLt:                "LT",
	BinaryLe:                "LE",
	BinaryMax:               "MAX",
	BinaryMin:               "MIN",
	BinaryMaxOrMin:          "MAXorMIN",
	BinaryCompare:           "COMPARE",
	BinaryOrVec:             "ORVEC",
	BinaryAndVec:            "ANDVEC",
	BinaryXorVec:            "XORVEC",
	BinaryLShiftL:           "LSHIFTL",
	BinarySMulL:             "SMULL",
	BinaryAddPowTwo:         "ADD_POWTWO",
	BinarySubPowTwo:         "SUB_POWTWO",
	BinaryGateTemplete:      "GATE_TEMPLETE",
	BinaryPrefixTemplete:    "PREFIX_TEMPLETE",
	BinaryAddPowTwoTemplete: "ADD_POWTWO_TEMPLETE",
	BinaryOrXor:             "OR_XOR",
	BinaryAndXor:            "AND_XOR",
}

// Valid reports whether the op code is within the known range.
func (op BinaryOp) Valid() bool { return op < binaryOpCount }

// String implements fmt.Stringer.
func (op BinaryOp) String() string {
	if !op.Valid() {
		return fmt.Sprintf("BinaryOp(%d)", uint8(op))
	}
	return binaryOpNames[op]
}

// TernaryOp enumerates the three-operand FHE16 operations.
type TernaryOp uint8

const (
	TernaryAdd3 TernaryOp = iota
	TernaryEq3
	TernaryMaj3
	TernaryXor3
	TernarySelect

	ternaryOpCount
)

var ternaryOpNames = [...]string{
	TernaryAdd3:   "ADD3",
	TernaryEq3:    "EQ3",
	TernaryMaj3:   "MAJ3",
	TernaryXor3:   "XOR3",
	TernarySelect: "SELECT",
}

// Valid reports whether the op code is within the known range.
func (op TernaryOp) Valid() bool { return op < ternaryOpCount }

// String implements fmt.Stringer.
func (op TernaryOp) String() string {
	if !op.Valid() {
		return fmt.Sprintf("TernaryOp(%d)", uint8(op))
	}
	return ternaryOpNames[op]
}
