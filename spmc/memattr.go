// Copyright (c) The GoTEE authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package spmc

import (
	"log"

	"github.com/usbarmory/GoTEE-spm/ffa"
	"github.com/usbarmory/GoTEE-spm/xlat"
)

// MemAttributes converts translation attributes into the encoding returned
// to the partition.
func MemAttributes(attr xlat.Attr) (v uint64) {
	switch {
	case attr&xlat.User == 0:
		v = ffa.MemAttrAccessNone
	case attr&xlat.RW != 0:
		v = ffa.MemAttrAccessRW
	default:
		v = ffa.MemAttrAccessRO
	}

	v <<= ffa.MemAttrAccessShift

	if attr&xlat.ExecuteNever != 0 {
		v |= ffa.MemAttrNonExec
	}

	return
}

// XlatAttributes converts the partition attribute encoding into translation
// attributes.
func XlatAttributes(v uint64) (attr xlat.Attr, ok bool) {
	switch (v >> ffa.MemAttrAccessShift) & ffa.MemAttrAccessMask {
	case ffa.MemAttrAccessRW:
		attr = xlat.RW | xlat.User
	case ffa.MemAttrAccessRO:
		attr = xlat.RO | xlat.User
	case ffa.MemAttrAccessNone:
		attr = xlat.RO | xlat.Privileged
	default:
		return 0, false
	}

	if v&ffa.MemAttrNonExec != 0 {
		attr |= xlat.ExecuteNever
	} else {
		attr |= xlat.Execute
	}

	return attr, true
}

func (s *Core) memAttributesGet(va uint64) int64 {
	s.attrMu.Lock()
	defer s.attrMu.Unlock()

	attr, err := s.sp.Xlat.Attributes(va)

	if err != nil {
		log.Printf("SPMC memory attributes get va:%#x failed, %v", va, err)
		return ffa.MM_INVALID_PARAMETER
	}

	return int64(MemAttributes(attr))
}

func (s *Core) memAttributesSet(va uint64, pages uint64, v uint64) int64 {
	s.attrMu.Lock()
	defer s.attrMu.Unlock()

	attr, ok := XlatAttributes(v)

	if !ok || pages > s.sp.Xlat.VASpace/xlat.PageSize {
		return ffa.MM_INVALID_PARAMETER
	}

	if err := s.sp.Xlat.Change(va, pages*xlat.PageSize, attr); err != nil {
		log.Printf("SPMC memory attributes set va:%#x pages:%d attr:%#x failed, %v", va, pages, v, err)
		return ffa.MM_INVALID_PARAMETER
	}

	if s.cfg.Debug {
		log.Printf("SPMC memory attributes set va:%#x pages:%d %s", va, pages, attr)
	}

	return ffa.MM_SUCCESS
}
