// Copyright (C) 2024  Simon <simon@shfs.dev>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package main

import (
	"fmt"

	"github.com/spf13/pflag"

	"git.sr.ht/~simon/shfs-admin/lib/shfs"
)

// tokenList accumulates ActionTokens in command-line encounter order. It
// backs several differently-named pflag.Value flags (-a, -r, -c, -d, -C,
// -l, -i, -m, -n) because pflag calls Value.Set in the order flags were
// encountered on the command line regardless of which flag it is,
// letting a flat CLI surface build an ordered action list without a
// dedicated sub-parser.
type tokenList struct {
	tokens *[]shfs.ActionToken
}

func (t tokenList) Type() string   { return "token" }
func (t tokenList) String() string { return "" }

var _ pflag.Value = addObjValue{}

type addObjValue struct{ tokenList }

func (v addObjValue) Set(s string) error {
	*v.tokens = append(*v.tokens, shfs.AddObj{Path: s})
	return nil
}

type rmObjValue struct{ tokenList }

func (v rmObjValue) Set(s string) error {
	*v.tokens = append(*v.tokens, shfs.RmObj{HashHex: s})
	return nil
}

type catObjValue struct{ tokenList }

func (v catObjValue) Set(s string) error {
	*v.tokens = append(*v.tokens, shfs.CatObj{HashHex: s})
	return nil
}

type setDefaultValue struct{ tokenList }

func (v setDefaultValue) Set(s string) error {
	*v.tokens = append(*v.tokens, shfs.SetDefaultTok{HashHex: s})
	return nil
}

// clearDefaultValue, lsValue and infoValue back the boolean-shaped flags
// (-C, -l, -i): pflag calls
// Set("true") for a flag with NoOptDefVal set, so these ignore the string
// and append a fixed token.
type clearDefaultValue struct{ tokenList }

func (v clearDefaultValue) Set(string) error {
	*v.tokens = append(*v.tokens, shfs.ClearDefaultTok{})
	return nil
}

type lsValue struct{ tokenList }

func (v lsValue) Set(string) error {
	*v.tokens = append(*v.tokens, shfs.LsTok{})
	return nil
}

type infoValue struct{ tokenList }

func (v infoValue) Set(string) error {
	*v.tokens = append(*v.tokens, shfs.InfoTok{})
	return nil
}

// mimeValue and nameValue bind to the last appended token, which must be an
// add-obj token; they fail if any other token was appended after it.
type mimeValue struct{ tokenList }

func (v mimeValue) Set(s string) error {
	return bindToLastAddObj(v.tokens, func(a *shfs.AddObj) { a.Mime = s })
}

type nameValue struct{ tokenList }

func (v nameValue) Set(s string) error {
	return bindToLastAddObj(v.tokens, func(a *shfs.AddObj) { a.Name = s })
}

func bindToLastAddObj(tokens *[]shfs.ActionToken, apply func(*shfs.AddObj)) error {
	if len(*tokens) == 0 {
		return fmt.Errorf("must follow an --add-obj")
	}
	last, ok := (*tokens)[len(*tokens)-1].(shfs.AddObj)
	if !ok {
		return fmt.Errorf("must immediately follow an --add-obj")
	}
	apply(&last)
	(*tokens)[len(*tokens)-1] = last
	return nil
}

// registerActionFlags wires every action-token flag onto fs, all sharing
// tokens as their backing accumulator.
func registerActionFlags(fs *pflag.FlagSet, tokens *[]shfs.ActionToken) {
	base := tokenList{tokens: tokens}

	fs.VarP(addObjValue{base}, "add-obj", "a", "add the contents of `file` as a new object")
	fs.VarP(rmObjValue{base}, "rm-obj", "r", "remove the object with the given hex `hash`")
	fs.VarP(catObjValue{base}, "cat-obj", "c", "write the object with the given hex `hash` to stdout")
	fs.VarP(setDefaultValue{base}, "set-default", "d", "mark the object with the given hex `hash` as the default")
	fs.VarP(mimeValue{base}, "mime", "m", "set the MIME type of the preceding --add-obj")
	fs.VarP(nameValue{base}, "name", "n", "set the name of the preceding --add-obj")

	clearDefault := clearDefaultValue{base}
	fs.VarP(clearDefault, "clear-default", "C", "clear the default object, if any")
	fs.Lookup("clear-default").NoOptDefVal = "true"

	ls := lsValue{base}
	fs.VarP(ls, "ls", "l", "list every stored object")
	fs.Lookup("ls").NoOptDefVal = "true"

	info := infoValue{base}
	fs.VarP(info, "info", "i", "print a summary of the volume")
	fs.Lookup("info").NoOptDefVal = "true"
}
