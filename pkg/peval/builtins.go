package peval

import "fmt"

// DefaultCFunctions is the baseline set of C helpers preserved as
// primitive calls for the emitter. Operator configuration extends it.
func DefaultCFunctions() map[string]bool {
	names := []string{
		"make_string",
		"make_vector",
		"make_float",
		"make_fixnum",
		"make_symbol_constant",
		"make_symbol_special",
		"set_char_table_purpose",
		"set_char_table_defalt",
		"char_table_set_range",
		"decode_env_path",
	}
	set := make(map[string]bool, len(names))
	for _, n := range names {
		set[n] = true
	}
	return set
}

// utilRewrites maps Emacs allocation and list helpers to the
// higher-level values they denote. Pure-space variants collapse onto
// their plain forms; pure space itself is irrelevant to extraction.
var utilRewrites = map[string]func(args []Value) (Value, error){
	"build_string":        rewriteMakeString,
	"build_unibyte_string": rewriteMakeString,
	"build_pure_c_string": rewriteMakeString,
	"make_pure_string":    rewriteMakeString,

	"intern":          rewriteIntern,
	"intern_c_string": rewriteIntern,

	"pure_cons": func(args []Value) (Value, error) {
		if len(args) != 2 {
			return nil, fmt.Errorf("pure_cons takes two arguments")
		}
		return &FormValue{Function: "cons", Args: args}, nil
	},

	"pure_list": rewriteList,
	"list1":     rewriteList,
	"list2":     rewriteList,
	"list3":     rewriteList,
	"list4":     rewriteList,
	"listn": func(args []Value) (Value, error) {
		// leading argument is the element count
		if len(args) > 0 {
			if _, ok := asInt(args[0]); ok {
				args = args[1:]
			}
		}
		return &FormValue{Function: "list", Args: args}, nil
	},

	"nconc2": func(args []Value) (Value, error) {
		return &FormValue{Function: "nconc", Args: args}, nil
	},

	"make_pure_vector": rewriteNilVector,
	"make_nil_vector":  rewriteNilVector,

	"ASET": func(args []Value) (Value, error) {
		if len(args) != 3 {
			return nil, fmt.Errorf("ASET takes three arguments")
		}
		return &FormValue{Function: "aset", Args: args}, nil
	},
	"AREF": func(args []Value) (Value, error) {
		if len(args) != 2 {
			return nil, fmt.Errorf("AREF takes two arguments")
		}
		return &FormValue{Function: "aref", Args: args}, nil
	},
	"CHAR_TABLE_SET": func(args []Value) (Value, error) {
		return &CCallValue{Name: "char_table_set", Args: args}, nil
	},
}

func rewriteMakeString(args []Value) (Value, error) {
	if len(args) == 0 {
		return nil, fmt.Errorf("string builder without arguments")
	}
	return &CCallValue{Name: "make_string", Args: []Value{args[0]}}, nil
}

func rewriteIntern(args []Value) (Value, error) {
	if len(args) == 0 {
		return nil, fmt.Errorf("intern without arguments")
	}
	s, ok := args[0].(*StringValue)
	if !ok {
		return nil, fmt.Errorf("intern of %s", Format(args[0]))
	}
	return &SymbolValue{Name: s.Value}, nil
}

func rewriteList(args []Value) (Value, error) {
	return &FormValue{Function: "list", Args: args}, nil
}

func rewriteNilVector(args []Value) (Value, error) {
	if len(args) == 0 {
		return nil, fmt.Errorf("vector builder without arguments")
	}
	return &CCallValue{Name: "make_vector", Args: []Value{args[0], &NilValue{}}}, nil
}
