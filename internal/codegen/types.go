package codegen

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"unicode"
)

const (
	addressType = "address"
	boolType    = "bool"
	stringType  = "string"
	bytesType   = "bytes"
	textType    = "TEXT"
)

// GoTypeName converts a Solidity type to a Go type name.
func GoTypeName(solidityType string) string {
	// Handle arrays first (before checking the base type)
	if strings.HasSuffix(solidityType, "[]") {
		// Dynamic arrays
		baseType := strings.TrimSuffix(solidityType, "[]")
		return "[]" + GoTypeName(baseType)
	}
	if regexp.MustCompile(`\[\d+\]$`).MatchString(solidityType) {
		// Fixed-size arrays (e.g., uint256[10])
		baseType := regexp.MustCompile(`\[\d+\]$`).ReplaceAllString(solidityType, "")
		return "[]" + GoTypeName(baseType) // Use slices in Go
	}

	// Now handle base types
	switch {
	case solidityType == addressType:
		return "common.Address"
	case solidityType == boolType:
		return boolType
	case solidityType == stringType:
		return stringType
	case solidityType == bytesType:
		return "[]byte"
	case strings.HasPrefix(solidityType, bytesType):
		// bytes1-bytes32 are fixed-size byte arrays, use common.Hash for bytes32
		if solidityType == "bytes32" {
			return "common.Hash"
		}
		return "[]byte"
	case strings.HasPrefix(solidityType, "uint"):
		if isIntSizeLargerThan64(solidityType, "uint") {
			return stringType // Large numbers need string representation
		}
		return "uint64"
	case strings.HasPrefix(solidityType, "int"):
		if isIntSizeLargerThan64(solidityType, "int") {
			return stringType
		}
		return "int64"
	default:
		return "interface{}"
	}
}

// DBTypeName converts a Solidity type to a database column type.
func DBTypeName(solidityType string) string {
	switch {
	case solidityType == addressType:
		return textType
	case solidityType == boolType:
		return "BOOLEAN"
	case solidityType == stringType:
		return textType
	case solidityType == bytesType:
		return "BLOB"
	case strings.HasPrefix(solidityType, bytesType):
		return textType // Store as hex string
	case strings.HasPrefix(solidityType, "uint") || strings.HasPrefix(solidityType, "int"):
		// Check if it fits in INTEGER (int64)
		if isIntSizeLargerThan64(solidityType, "uint") || isIntSizeLargerThan64(solidityType, "int") {
			return textType // Large numbers as text
		}
		return "INTEGER"
	case strings.HasSuffix(solidityType, "[]") || regexp.MustCompile(`\[\d+\]$`).MatchString(solidityType):
		return textType // Arrays stored as JSON
	default:
		return textType
	}
}

// isIntSizeLargerThan64 reports whether solidityType is intType ("uint" or
// "int") followed by a bit size above 64; the bare form counts as 256 bits.
func isIntSizeLargerThan64(solidityType, intType string) bool {
	if !strings.HasPrefix(solidityType, intType) {
		return false
	}
	size := strings.TrimPrefix(solidityType, intType)
	if size == "" {
		return true
	}
	bits, err := strconv.Atoi(size)
	return err == nil && bits > 64
}

// MeddlerTag returns the meddler struct tag for a field.
func MeddlerTag(param EventParam) string {
	fieldName := DBFieldName(param.Name)
	goType := GoTypeName(param.Type)

	// Special tags for common types
	switch goType {
	case "common.Address":
		return fmt.Sprintf(`meddler:"%s,address"`, fieldName)
	case "common.Hash":
		return fmt.Sprintf(`meddler:"%s,hash"`, fieldName)
	default:
		return fmt.Sprintf(`meddler:"%s"`, fieldName)
	}
}

// DBFieldName converts a parameter name to a database field name.
// Examples: "from" -> "from_address", "to" -> "to_address", "value" -> "value"
func DBFieldName(paramName string) string {
	// Convert camelCase to snake_case
	snake := ToSnakeCase(paramName)

	// Add _address suffix for common address field names
	addressFields := []string{"from", "to", "owner", "spender", "sender", "recipient"}
	for _, field := range addressFields {
		if snake == field || strings.HasSuffix(snake, "_"+field) {
			return snake + "_address"
		}
	}

	return snake
}

// ToSnakeCase converts a string from camelCase or PascalCase to snake_case.
// A run of capitals is kept together as one word (HTTPServer -> http_server).
func ToSnakeCase(s string) string {
	runes := []rune(s)
	result := make([]rune, 0, len(runes)+len(runes))
	for i, r := range runes {
		if i > 0 && unicode.IsUpper(r) {
			prev := runes[i-1]
			nextIsLower := i+1 < len(runes) && unicode.IsLower(runes[i+1])
			if unicode.IsLower(prev) || unicode.IsDigit(prev) || (unicode.IsUpper(prev) && nextIsLower) {
				result = append(result, '_')
			}
		}
		result = append(result, unicode.ToLower(r))
	}
	return string(result)
}

// ToPascalCase converts a string to PascalCase.
func ToPascalCase(s string) string {
	parts := strings.FieldsFunc(s, func(r rune) bool {
		return r == '_' || r == '-' || r == ' '
	})

	for i, part := range parts {
		if len(part) > 0 {
			parts[i] = strings.ToUpper(part[:1]) + strings.ToLower(part[1:])
		}
	}

	return strings.Join(parts, "")
}

// ToLowerCamelCase converts a string to lowerCamelCase.
func ToLowerCamelCase(s string) string {
	pascal := ToPascalCase(s)
	if len(pascal) == 0 {
		return pascal
	}
	return strings.ToLower(pascal[:1]) + pascal[1:]
}

// Pluralize returns a simple pluralized form of a word. Past-tense and
// past-participle forms (ending in "ed", "wn", "iven" or "aken") are
// returned unchanged.
func Pluralize(word string) string {
	for _, suffix := range []string{"ed", "wn", "iven", "aken"} {
		if strings.HasSuffix(word, suffix) {
			return word
		}
	}
	if strings.HasSuffix(word, "s") || strings.HasSuffix(word, "x") ||
		strings.HasSuffix(word, "z") || strings.HasSuffix(word, "ch") ||
		strings.HasSuffix(word, "sh") {
		return word + "es"
	}
	if strings.HasSuffix(word, "y") && len(word) > 1 {
		// Check if the character before 'y' is a consonant
		beforeY := rune(word[len(word)-2])
		if !isVowel(beforeY) {
			return word[:len(word)-1] + "ies"
		}
	}
	return word + "s"
}

func isVowel(r rune) bool {
	switch unicode.ToLower(r) {
	case 'a', 'e', 'i', 'o', 'u':
		return true
	default:
		return false
	}
}

// TableName generates a table name from an event name.
func TableName(eventName string) string {
	snake := ToSnakeCase(eventName)
	return Pluralize(snake)
}
