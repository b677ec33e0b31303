/*
Copyright 2024 The Relstore Authors

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

     http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Command relstore is a cmdmain-style CLI driving the facade over the
// §6 command surface, for manual smoke testing. It is not a SQL
// client: cliexec recognizes only the fixed statement shapes §6 pins
// down, not arbitrary SQL.
package main

import (
	"relstore/pkg/cmdmain"
)

func main() {
	cmdmain.Main()
}
