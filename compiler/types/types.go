// Package types is the numeric/type model shared by every compiler stage.
//
// Values are classified on a four-point lattice. Unknown is the optimistic
// starting point of inference, Number and Boolean are values the target can
// keep unboxed, and Boxed covers everything that may be a string, object,
// undefined or a mix of representations.
package types

// Kind is a point on the value-representation lattice.
type Kind uint8

const (
	Unknown Kind = iota // no information yet
	Number              // always an unboxed double
	Boolean             // always an unboxed boolean
	Boxed               // sometimes boxed, or a reference
)

var kindNames = [...]string{"unknown", "number", "boolean", "boxed"}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return "kind?"
}

// Meet returns the greatest lower bound of two kinds. Unknown is the
// identity; two different known kinds meet at Boxed.
func Meet(a, b Kind) Kind {
	switch {
	case a == Unknown:
		return b
	case b == Unknown:
		return a
	case a == b:
		return a
	default:
		return Boxed
	}
}

// MeetAll folds Meet over ks. The meet of nothing is Unknown.
func MeetAll(ks ...Kind) Kind {
	k := Unknown
	for _, x := range ks {
		k = Meet(k, x)
	}
	return k
}

// IsUnboxed reports whether values of kind k are unboxed primitives.
func (k Kind) IsUnboxed() bool { return k == Number || k == Boolean }

// Settle maps Unknown to Boxed once inference has finished.
func (k Kind) Settle() Kind {
	if k == Unknown {
		return Boxed
	}
	return k
}

// OpClass groups operators by how their result kind is derived.
type OpClass uint8

const (
	ClassAdd     OpClass = iota // +: numeric only if both sides are numeric
	ClassArith                  // - * / % **: always numeric
	ClassBitwise                // & | ^ << >> >>>: numeric (int32 range)
	ClassCompare                // < <= > >= == != === !==: boolean
	ClassOther                  // in, instanceof: boolean via runtime
)

// BinaryResult is the forward transfer function for binary operators.
// Unknown operands keep an Add result Unknown so that inference can stay
// optimistic until a fixpoint is reached.
func BinaryResult(c OpClass, l, r Kind) Kind {
	switch c {
	case ClassAdd:
		if l == Boxed || r == Boxed || l == Boolean || r == Boolean {
			return Boxed
		}
		if l == Number && r == Number {
			return Number
		}
		return Unknown
	case ClassArith, ClassBitwise:
		return Number
	case ClassCompare, ClassOther:
		return Boolean
	}
	return Boxed
}

// UnaryOp is a unary operator relevant to the type model.
type UnaryOp uint8

const (
	UnaryNeg    UnaryOp = iota // -x
	UnaryPlus                  // +x
	UnaryBitNot                // ~x
	UnaryNot                   // !x
	UnaryTypeof                // typeof x
	UnaryVoid                  // void x
	UnaryDelete                // delete x
)

// UnaryResult is the forward transfer function for unary operators.
func UnaryResult(op UnaryOp, _ Kind) Kind {
	switch op {
	case UnaryNeg, UnaryPlus, UnaryBitNot:
		return Number
	case UnaryNot, UnaryDelete:
		return Boolean
	}
	return Boxed
}

// Shape is static knowledge about the layout of a reference value. It selects
// fast member-access paths; the dynamic path is always a valid fallback.
type Shape uint8

const (
	ShapeNone Shape = iota
	ShapeArray
	ShapeString
	ShapeObject
)

var shapeNames = [...]string{"none", "array", "string", "object"}

func (s Shape) String() string {
	if int(s) < len(shapeNames) {
		return shapeNames[s]
	}
	return "shape?"
}

// MeetShape keeps a shape only when both sides agree.
func MeetShape(a, b Shape) Shape {
	if a == b {
		return a
	}
	return ShapeNone
}

// FastMember reports whether reading name on a value of shape s has a
// statically known fast path.
func FastMember(s Shape, name string) bool {
	switch s {
	case ShapeArray, ShapeString:
		return name == "length"
	}
	return false
}

// FastIndex reports whether an indexed read with a literal integer index can
// take the fast path on a value of shape s.
func FastIndex(s Shape, index float64) bool {
	return s == ShapeArray && index >= 0 && index == float64(int64(index)) && index < 1<<31
}
