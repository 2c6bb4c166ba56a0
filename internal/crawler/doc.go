// Package crawler holds the data model, collaborator interfaces and error
// taxonomy of the judgment crawl-and-extract pipeline. Every other package
// depends on it; it depends on nothing but the standard library.
package crawler
