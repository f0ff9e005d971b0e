// SPDX-License-Identifier: MPL-2.0

package main

import cmd "condamirror/cmd/condamirror"

func main() {
	cmd.Execute()
}
