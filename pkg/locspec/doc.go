// Package locspec implements code to parse a string into a breakpoint
// location specification.
//
// Location spec examples:
//
// locStr ::= <filename>:<line> | <function>[+<offset>] | {<function>, , }[ +<offset>] | *<address>
// * <filename> is the path of a source file as known by the agent
// * <function> is the name of a function, <offset> is a line offset from its first line
// * {<function>, , } +<offset> is the context operator form of a function location
// * *<address> is a code address, decimal or 0x prefixed hexadecimal
//
// Any location may be followed by " if <condition>".
package locspec
