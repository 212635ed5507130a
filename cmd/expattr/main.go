// Command expattr imports enriched experiment events into a SQLite store and
// computes subject attribution, conversion attribution, and aggregates.
package main

func main() {
	Execute()
}
