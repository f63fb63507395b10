package jewel

import "fmt"

// ErrorCode identifies one compiler error or warning.
type ErrorCode int

// Compiler error codes. The numeric values are part of the public
// surface: hosts compare against them when walking the error iterator.
const (
	errNone ErrorCode = iota

	ErrEndOfFile
	ErrUnexpectedToken
	ErrFunctionAlreadyDefined
	ErrTypelessArgConflict
	ErrConstArgConflict
	ErrIdentifierAlreadyDefined
	ErrMustReturnValue
	ErrCannotReturnValue
	ErrIncompatibleType
	ErrNotAnLValue
	ErrVarNotInitialized
	ErrUndefinedIdentifier
	ErrUndefinedFunctionCall
	ErrNoReturnValue
	ErrLValueIsConst
	ErrNoCopyConstructor
	ErrNoFunctionBody
	ErrConstructorNotVoid
	ErrMethodOutsideClass
	ErrConstructorIsFunction
	ErrNotAConstructor
	ErrCallingMethodFromStatic
	ErrNotAnObject
	ErrIncompleteArgList
	ErrBreakWithoutContext
	ErrConvertorIsVoid
	ErrConvertorIsFunction
	ErrConvertorHasArguments
	ErrDefaultNotAtEnd
	ErrCaseRequiresConstExpr
	ErrTypeofVarIllegal
	ErrClassOnlyForwarded
	ErrInvalidCharLiteral
	ErrCharacterValueTooLarge
	ErrNotAnArray
	ErrMissingSemicolon
	ErrMixingClassAndInterface
	ErrInterfaceNotComplete
	ErrTypeNotClass
	ErrRefArgConflict
	ErrArgTypeConflict
	ErrImportNotDefined
	ErrFunctionNotAnAccessor
	ErrMemberProtected
	ErrFunctionRedefined
	ErrFatalError
	ErrAmbiguousFunctionCall
	ErrReturnInCofunction
	ErrYieldOutsideCofunction
	ErrThrowNotException
	ErrWeakWithoutRef
	ErrWRefArgConflict
	ErrSyntaxError
	ErrCtorIsExplicit
	ErrNoDefaultCtor
	ErrExplicitWithMethod
	ErrTypeNotInterface
	ErrNoSuitableDelegate
	ErrInvalidVariableCall
	ErrHybridExpected
	ErrUnterminatedComment
	ErrUnterminatedString
	ErrInvalidOption
	ErrInvalidOptionValue
	ErrStrictRequiresBody
	ErrNativeDeclFailed

	numErrorCodes
)

// Warning codes live in the same numeric space, above the errors.
const (
	warnUnknownOption ErrorCode = iota + 1000
	warnTakingWeakFromWeak
	warnAssignTempToWeak
	warnReturnWeakLocal
	warnReservedKeyword
	warnUnreachableCode
	warnImplicitConversion
	warnFunctionShadowed

	numWarningCodes
)

var errorMessages = map[ErrorCode]string{
	ErrEndOfFile:                "unexpected end of file",
	ErrUnexpectedToken:          "unexpected token",
	ErrFunctionAlreadyDefined:   "function already defined",
	ErrTypelessArgConflict:      "function redefined, typeless 'var' conflict",
	ErrConstArgConflict:         "function redefined, inconsistent use of 'const' modifier",
	ErrIdentifierAlreadyDefined: "identifier already defined",
	ErrMustReturnValue:          "function must return a value",
	ErrCannotReturnValue:        "function cannot return a value",
	ErrIncompatibleType:         "incompatible type and no convertor found",
	ErrNotAnLValue:              "expression is not a valid l-value",
	ErrVarNotInitialized:        "using variable without initialization",
	ErrUndefinedIdentifier:      "undefined identifier",
	ErrUndefinedFunctionCall:    "function undefined or no overload accepts the specified arguments",
	ErrNoReturnValue:            "function does not return a value in all cases",
	ErrLValueIsConst:            "l-value is a constant",
	ErrNoCopyConstructor:        "copy-constructor undefined, unable to copy object",
	ErrNoFunctionBody:           "function declared but not defined",
	ErrConstructorNotVoid:       "constructor cannot return a value",
	ErrMethodOutsideClass:       "class member function needs to be declared in a class",
	ErrConstructorIsFunction:    "constructors are methods, use 'method' keyword",
	ErrNotAConstructor:          "not a valid constructor",
	ErrCallingMethodFromStatic:  "cannot call method from function",
	ErrNotAnObject:              "need an object left from '.'",
	ErrIncompleteArgList:        "incomplete argument list",
	ErrBreakWithoutContext:      "break / continue without for / while / switch",
	ErrConvertorIsVoid:          "convertor method requires return type",
	ErrConvertorIsFunction:      "convertors are methods, use 'method' keyword",
	ErrConvertorHasArguments:    "convertor cannot have arguments",
	ErrDefaultNotAtEnd:          "default must appear last in switch statement",
	ErrCaseRequiresConstExpr:    "case requires constant expression",
	ErrTypeofVarIllegal:         "operator typeof cannot evaluate typeless 'var'",
	ErrClassOnlyForwarded:       "class does not have a body",
	ErrInvalidCharLiteral:       "invalid character literal",
	ErrCharacterValueTooLarge:   "character value too large",
	ErrNotAnArray:               "identifier is not an array",
	ErrMissingSemicolon:         "missing ';' at end of statement",
	ErrMixingClassAndInterface:  "mixing usage of 'class' and 'interface' keywords",
	ErrInterfaceNotComplete:     "inherited method not implemented",
	ErrTypeNotClass:             "type is not a class",
	ErrRefArgConflict:           "function redefined, inconsistent modifiers",
	ErrArgTypeConflict:          "function redefined, inconsistent types",
	ErrImportNotDefined:         "unable to resolve specified import",
	ErrFunctionNotAnAccessor:    "function signature not suitable for 'accessor'",
	ErrMemberProtected:          "no suitable accessor defined",
	ErrFunctionRedefined:        "function redefined, different function types",
	ErrFatalError:               "fatal error",
	ErrAmbiguousFunctionCall:    "ambiguous function call",
	ErrReturnInCofunction:       "cannot use 'return' in cofunction, use 'yield'",
	ErrYieldOutsideCofunction:   "cannot use 'yield' outside of cofunctions",
	ErrThrowNotException:        "class does not implement interface 'exception'",
	ErrWeakWithoutRef:           "modifier 'weak' requires reference type",
	ErrWRefArgConflict:          "function redefined, inconsistent use of 'weak' modifier",
	ErrSyntaxError:              "syntax error in statement",
	ErrCtorIsExplicit:           "class requires explicit initialization",
	ErrNoDefaultCtor:            "class has no default constructor",
	ErrExplicitWithMethod:       "modifier 'explicit' can only be used with constructor and convertor methods",
	ErrTypeNotInterface:         "type is not an interface",
	ErrNoSuitableDelegate:       "no delegate defined that matches function signature",
	ErrInvalidVariableCall:      "variable is not a delegate or cofunction thread",
	ErrHybridExpected:           "keyword expected while defining class constructor",
	ErrUnterminatedComment:      "unterminated comment",
	ErrUnterminatedString:       "unterminated string literal",
	ErrInvalidOption:            "unknown compiler option",
	ErrInvalidOptionValue:       "illegal value for compiler option",
	ErrStrictRequiresBody:       "strict class declares function without body",
	ErrNativeDeclFailed:         "native type declaration failed to compile",

	warnUnknownOption:      "unknown option ignored",
	warnTakingWeakFromWeak: "taking weak reference from a weak reference",
	warnAssignTempToWeak:   "assigning temporary value to weak reference",
	warnReturnWeakLocal:    "returning weak reference to local variable",
	warnReservedKeyword:    "reserved keyword has no effect",
	warnUnreachableCode:    "unreachable code",
	warnImplicitConversion: "implicit conversion may lose precision",
	warnFunctionShadowed:   "function shadows inherited function",
}

// Message returns the canonical message text for a code.
func (c ErrorCode) Message() string {
	if m, ok := errorMessages[c]; ok {
		return m
	}
	return "unknown error"
}

// IsWarning reports whether the code is from the warning space.
func (c ErrorCode) IsWarning() bool { return c >= 1000 }

// warningLevels gates which warnings are emitted at a given
// warning-level option value. Level 0 silences everything.
var warningLevels = map[ErrorCode]int{
	warnUnknownOption:      1,
	warnTakingWeakFromWeak: 2,
	warnAssignTempToWeak:   2,
	warnReturnWeakLocal:    1,
	warnReservedKeyword:    3,
	warnUnreachableCode:    3,
	warnImplicitConversion: 4,
	warnFunctionShadowed:   4,
}

// CompileError is one entry in the compiler's error list. Line and
// column refer to the position the offending token starts at.
type CompileError struct {
	Code   ErrorCode
	File   string
	Line   int
	Column int
	Detail string
}

func (e CompileError) Error() string {
	msg := e.Code.Message()
	if e.Detail != "" {
		msg = msg + ": " + e.Detail
	}
	kind := "error"
	if e.Code.IsWarning() {
		kind = "warning"
	}
	return fmt.Sprintf("%s(%d,%d): %s %d: %s", e.File, e.Line, e.Column, kind, e.Code, msg)
}

// msFormat renders the error the way MSVC build logs expect it, with
// the column spelled out. Selected by option error-format=ms.
func (e CompileError) msFormat() string {
	kind := "error"
	if e.Code.IsWarning() {
		kind = "warning"
	}
	return fmt.Sprintf("%s(%d): %s C%04d: %s (col %d)", e.File, e.Line, kind, e.Code, e.Code.Message(), e.Column)
}
