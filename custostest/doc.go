/*
Package custostest provides in-memory implementations of the external
capabilities and other test doubles. Only tests should ever use this
package.
*/
package custostest
