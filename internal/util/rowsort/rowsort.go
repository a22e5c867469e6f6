// Copyright 2023 The Cockroach Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
//
// SPDX-License-Identifier: Apache-2.0

// Package rowsort contains utility functions for ordering batches of
// row tuples before they are handed to the bulk writer.
package rowsort

import (
	"fmt"
	"sort"
)

// ByPrimaryKey sorts rows (in place) by the value found at keyIndex in
// each row. This does not change which rows are written, only the wire
// order of the bulk copy, which keeps target-side index insertion
// locality predictable for large batches.
//
// The modified slice is returned for chaining.
func ByPrimaryKey(rows [][]any, keyIndex int) [][]any {
	sort.SliceStable(rows, func(i, j int) bool {
		return fmt.Sprint(rows[i][keyIndex]) < fmt.Sprint(rows[j][keyIndex])
	})
	return rows
}
