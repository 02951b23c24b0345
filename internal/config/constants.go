package config

const SourceFileExt = ".lm"

// Recognized input extensions: textual assembly and compiled bundles.
var (
	AssemblyFileExtensions = []string{".lms", ".lmasm"}
	BundleFileExt          = ".lmb"
)

// VM limits. Overridable at startup via a limits YAML file (see cmd/limitly).
const (
	DefaultMaxStackSize  = 65536
	DefaultMaxCallDepth  = 1024
	DefaultMaxMatchSteps = 100000
)

// Built-in error type names (the runtime error taxonomy).
const (
	DivisionByZeroError   = "DivisionByZero"
	IndexOutOfBoundsError = "IndexOutOfBounds"
	NullReferenceError    = "NullReference"
	TypeConversionError   = "TypeConversion"
	IOError               = "IOError"
	ParseError            = "ParseError"
	NetworkError          = "NetworkError"
	UndefinedVariableErr  = "UndefinedVariable"
)

// BuiltinErrorTypes lists every pre-registered error type name.
var BuiltinErrorTypes = []string{
	DivisionByZeroError,
	IndexOutOfBoundsError,
	NullReferenceError,
	TypeConversionError,
	IOError,
	ParseError,
	NetworkError,
}

// Pattern marker strings used by the MATCH_PATTERN stack protocol.
const (
	DictPatternMarker  = "__dict_pattern__"
	ListPatternMarker  = "__list_pattern__"
	TuplePatternMarker = "__tuple_pattern__"
	ValPatternMarker   = "__val_pattern__"
	ErrPatternMarker   = "__err_pattern__"
	TypePatternMarker  = "__type_pattern__"
	BindPatternMarker  = "__bind_pattern__"
	WildcardPattern    = "_"
)
