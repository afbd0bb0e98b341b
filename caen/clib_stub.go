// Copyright 2026 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

//go:build !caendpp

package caen

import "errors"

// NewLibrary returns the native CAENDPPLib library.
//
// This binary was built without the caendpp build tag: NewLibrary always
// fails and only the Simulator is available.
func NewLibrary() (Library, error) {
	return nil, errors.New("caen: built without CAENDPPLib support (missing caendpp build tag)")
}
