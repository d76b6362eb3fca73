// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package readbias

import (
	"github.com/grailbio/hts/sam"
)

// Mode is the read layout of a run.
type Mode int

const (
	// SingleEnd runs have one read file.
	SingleEnd Mode = iota
	// PairedEnd runs have two read files, one per mate.
	PairedEnd
)

func (m Mode) String() string {
	if m == PairedEnd {
		return "paired-end"
	}
	return "single-end"
}

// Category is the mapping outcome of one read or read pair.
type Category int

const (
	// Mapped reads aligned; for pairs, aligned as a proper pair.
	Mapped Category = iota
	// BadMapped pairs have both mates aligned, but not as a proper pair.
	BadMapped
	// Unmapped reads did not align; for pairs, neither mate aligned.
	Unmapped
	// FirstOnly pairs carry the read-unmapped bit without the mate-unmapped bit.
	FirstOnly
	// SecondOnly pairs carry the mate-unmapped bit without the read-unmapped bit.
	SecondOnly
	// Unclassified pairs matched no other category.
	Unclassified

	numCategories
)

var categoryNames = [numCategories]string{"map", "bad_map", "unmap", "r1_only", "r2_only", "unclassified"}

// String returns the output column name of the category.
func (c Category) String() string {
	if c < 0 || c >= numCategories {
		return "invalid"
	}
	return categoryNames[c]
}

// Columns returns the categories reported for the mode, in column order.
func (m Mode) Columns() []Category {
	if m == PairedEnd {
		return []Category{Mapped, BadMapped, Unmapped, FirstOnly, SecondOnly}
	}
	return []Category{Mapped, Unmapped}
}

// Classify maps the flags of one record to its category. In PairedEnd mode
// only records with the Read1 bit stand for their pair; all other records are
// skipped and ok is false.
//
// The paired rules are checked in order and the first match wins:
//
//	Mapped      ProperPair
//	BadMapped   !ProperPair && !Unmapped && !MateUnmapped
//	Unmapped    !ProperPair &&  Unmapped &&  MateUnmapped
//	FirstOnly   !ProperPair &&  Unmapped && !MateUnmapped
//	SecondOnly  !ProperPair && !Unmapped &&  MateUnmapped
//
// Anything else is Unclassified.
func Classify(flags sam.Flags, mode Mode) (c Category, ok bool) {
	if mode == SingleEnd {
		if flags&sam.Unmapped == 0 {
			return Mapped, true
		}
		return Unmapped, true
	}
	if flags&sam.Read1 == 0 {
		return Unclassified, false
	}
	var (
		proper       = flags&sam.ProperPair != 0
		unmapped     = flags&sam.Unmapped != 0
		mateUnmapped = flags&sam.MateUnmapped != 0
	)
	switch {
	case proper:
		return Mapped, true
	case !unmapped && !mateUnmapped:
		return BadMapped, true
	case unmapped && mateUnmapped:
		return Unmapped, true
	case unmapped && !mateUnmapped:
		return FirstOnly, true
	case !unmapped && mateUnmapped:
		return SecondOnly, true
	}
	return Unclassified, true
}
