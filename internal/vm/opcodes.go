package vm

import "fmt"

// Opcode identifies a VM operation.
type Opcode byte

const (
	// Stack operations
	OP_PUSH_INT Opcode = iota
	OP_PUSH_FLOAT
	OP_PUSH_STRING
	OP_PUSH_BOOL
	OP_PUSH_NULL
	OP_POP
	OP_DUP
	OP_SWAP

	// Variable operations
	OP_STORE_VAR
	OP_DEFINE_ATOMIC
	OP_LOAD_VAR
	OP_REMOVE_VAR
	OP_STORE_TEMP
	OP_LOAD_TEMP
	OP_CLEAR_TEMP
	OP_LOAD_THIS
	OP_LOAD_SUPER

	// Arithmetic operations
	OP_ADD
	OP_SUBTRACT
	OP_MULTIPLY
	OP_DIVIDE
	OP_MODULO
	OP_POWER
	OP_NEGATE

	// String operations
	OP_CONCAT
	OP_INTERPOLATE_STRING

	// Comparison operations
	OP_EQUAL
	OP_NOT_EQUAL
	OP_LESS
	OP_LESS_EQUAL
	OP_GREATER
	OP_GREATER_EQUAL

	// Logical operations
	OP_AND
	OP_OR
	OP_NOT

	// Control flow
	OP_JUMP
	OP_JUMP_IF_TRUE
	OP_JUMP_IF_FALSE
	OP_CALL
	OP_RETURN

	// Function definitions
	OP_BEGIN_FUNCTION
	OP_END_FUNCTION
	OP_DEFINE_PARAM
	OP_DEFINE_OPTIONAL_PARAM
	OP_SET_DEFAULT_VALUE
	OP_CREATE_CLOSURE

	// Class operations
	OP_BEGIN_CLASS
	OP_END_CLASS
	OP_SET_SUPERCLASS
	OP_DEFINE_FIELD
	OP_GET_PROPERTY
	OP_SET_PROPERTY

	// Collection operations
	OP_CREATE_LIST
	OP_LIST_APPEND
	OP_CREATE_DICT
	OP_DICT_SET
	OP_CREATE_RANGE
	OP_SET_RANGE_STEP
	OP_CREATE_TUPLE
	OP_GET_INDEX
	OP_SET_INDEX

	// Iterator operations
	OP_GET_ITERATOR
	OP_ITERATOR_HAS_NEXT
	OP_ITERATOR_NEXT

	// Scope operations
	OP_BEGIN_SCOPE
	OP_END_SCOPE

	// Enum operations
	OP_BEGIN_ENUM
	OP_END_ENUM
	OP_DEFINE_ENUM_VARIANT

	// Pattern matching
	OP_MATCH_PATTERN

	// Error union operations
	OP_PUSH_ERROR_FRAME
	OP_POP_ERROR_FRAME
	OP_CHECK_ERROR
	OP_PROPAGATE_ERROR
	OP_CONSTRUCT_ERROR
	OP_CONSTRUCT_OK
	OP_IS_ERROR
	OP_IS_SUCCESS
	OP_UNWRAP_VALUE

	// Concurrency operations
	OP_BEGIN_PARALLEL
	OP_END_PARALLEL
	OP_BEGIN_CONCURRENT
	OP_END_CONCURRENT
	OP_BEGIN_TASK
	OP_END_TASK
	OP_BEGIN_WORKER
	OP_END_WORKER
	OP_AWAIT

	// I/O
	OP_PRINT
	OP_HALT
)

// Instruction is the unit of the program stream handed over by the compiler.
// Operands are decoded per opcode: jump targets and counts ride in IntVal,
// names and literals in StrVal.
type Instruction struct {
	Op       Opcode
	Line     uint32
	IntVal   int64
	FloatVal float64
	BoolVal  bool
	StrVal   string
}

// OpcodeNames maps opcodes to their mnemonic, shared by the assembler
// and the disassembler.
var OpcodeNames = map[Opcode]string{
	OP_PUSH_INT:              "PUSH_INT",
	OP_PUSH_FLOAT:            "PUSH_FLOAT",
	OP_PUSH_STRING:           "PUSH_STRING",
	OP_PUSH_BOOL:             "PUSH_BOOL",
	OP_PUSH_NULL:             "PUSH_NULL",
	OP_POP:                   "POP",
	OP_DUP:                   "DUP",
	OP_SWAP:                  "SWAP",
	OP_STORE_VAR:             "STORE_VAR",
	OP_DEFINE_ATOMIC:         "DEFINE_ATOMIC",
	OP_LOAD_VAR:              "LOAD_VAR",
	OP_REMOVE_VAR:            "REMOVE_VAR",
	OP_STORE_TEMP:            "STORE_TEMP",
	OP_LOAD_TEMP:             "LOAD_TEMP",
	OP_CLEAR_TEMP:            "CLEAR_TEMP",
	OP_LOAD_THIS:             "LOAD_THIS",
	OP_LOAD_SUPER:            "LOAD_SUPER",
	OP_ADD:                   "ADD",
	OP_SUBTRACT:              "SUBTRACT",
	OP_MULTIPLY:              "MULTIPLY",
	OP_DIVIDE:                "DIVIDE",
	OP_MODULO:                "MODULO",
	OP_POWER:                 "POWER",
	OP_NEGATE:                "NEGATE",
	OP_CONCAT:                "CONCAT",
	OP_INTERPOLATE_STRING:    "INTERPOLATE_STRING",
	OP_EQUAL:                 "EQUAL",
	OP_NOT_EQUAL:             "NOT_EQUAL",
	OP_LESS:                  "LESS",
	OP_LESS_EQUAL:            "LESS_EQUAL",
	OP_GREATER:               "GREATER",
	OP_GREATER_EQUAL:         "GREATER_EQUAL",
	OP_AND:                   "AND",
	OP_OR:                    "OR",
	OP_NOT:                   "NOT",
	OP_JUMP:                  "JUMP",
	OP_JUMP_IF_TRUE:          "JUMP_IF_TRUE",
	OP_JUMP_IF_FALSE:         "JUMP_IF_FALSE",
	OP_CALL:                  "CALL",
	OP_RETURN:                "RETURN",
	OP_BEGIN_FUNCTION:        "BEGIN_FUNCTION",
	OP_END_FUNCTION:          "END_FUNCTION",
	OP_DEFINE_PARAM:          "DEFINE_PARAM",
	OP_DEFINE_OPTIONAL_PARAM: "DEFINE_OPTIONAL_PARAM",
	OP_SET_DEFAULT_VALUE:     "SET_DEFAULT_VALUE",
	OP_CREATE_CLOSURE:        "CREATE_CLOSURE",
	OP_BEGIN_CLASS:           "BEGIN_CLASS",
	OP_END_CLASS:             "END_CLASS",
	OP_SET_SUPERCLASS:        "SET_SUPERCLASS",
	OP_DEFINE_FIELD:          "DEFINE_FIELD",
	OP_GET_PROPERTY:          "GET_PROPERTY",
	OP_SET_PROPERTY:          "SET_PROPERTY",
	OP_CREATE_LIST:           "CREATE_LIST",
	OP_LIST_APPEND:           "LIST_APPEND",
	OP_CREATE_DICT:           "CREATE_DICT",
	OP_DICT_SET:              "DICT_SET",
	OP_CREATE_RANGE:          "CREATE_RANGE",
	OP_SET_RANGE_STEP:        "SET_RANGE_STEP",
	OP_CREATE_TUPLE:          "CREATE_TUPLE",
	OP_GET_INDEX:             "GET_INDEX",
	OP_SET_INDEX:             "SET_INDEX",
	OP_GET_ITERATOR:          "GET_ITERATOR",
	OP_ITERATOR_HAS_NEXT:     "ITERATOR_HAS_NEXT",
	OP_ITERATOR_NEXT:         "ITERATOR_NEXT",
	OP_BEGIN_SCOPE:           "BEGIN_SCOPE",
	OP_END_SCOPE:             "END_SCOPE",
	OP_BEGIN_ENUM:            "BEGIN_ENUM",
	OP_END_ENUM:              "END_ENUM",
	OP_DEFINE_ENUM_VARIANT:   "DEFINE_ENUM_VARIANT",
	OP_MATCH_PATTERN:         "MATCH_PATTERN",
	OP_PUSH_ERROR_FRAME:      "PUSH_ERROR_FRAME",
	OP_POP_ERROR_FRAME:       "POP_ERROR_FRAME",
	OP_CHECK_ERROR:           "CHECK_ERROR",
	OP_PROPAGATE_ERROR:       "PROPAGATE_ERROR",
	OP_CONSTRUCT_ERROR:       "CONSTRUCT_ERROR",
	OP_CONSTRUCT_OK:          "CONSTRUCT_OK",
	OP_IS_ERROR:              "IS_ERROR",
	OP_IS_SUCCESS:            "IS_SUCCESS",
	OP_UNWRAP_VALUE:          "UNWRAP_VALUE",
	OP_BEGIN_PARALLEL:        "BEGIN_PARALLEL",
	OP_END_PARALLEL:          "END_PARALLEL",
	OP_BEGIN_CONCURRENT:      "BEGIN_CONCURRENT",
	OP_END_CONCURRENT:        "END_CONCURRENT",
	OP_BEGIN_TASK:            "BEGIN_TASK",
	OP_END_TASK:              "END_TASK",
	OP_BEGIN_WORKER:          "BEGIN_WORKER",
	OP_END_WORKER:            "END_WORKER",
	OP_AWAIT:                 "AWAIT",
	OP_PRINT:                 "PRINT",
	OP_HALT:                  "HALT",
}

// opcodeByName is the reverse of OpcodeNames, built once for the assembler.
var opcodeByName = func() map[string]Opcode {
	m := make(map[string]Opcode, len(OpcodeNames))
	for op, name := range OpcodeNames {
		m[name] = op
	}
	return m
}()

func (op Opcode) String() string {
	if name, ok := OpcodeNames[op]; ok {
		return name
	}
	return fmt.Sprintf("UNKNOWN(%d)", byte(op))
}
