// Command chainkv is a placeholder entrypoint. The store's public surface
// is the engine package; a wire protocol or CLI front end is out of scope
// here (see SPEC_FULL.md's Non-goals) and left for a separate façade.
package main

func main() {
}
