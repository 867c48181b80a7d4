// Command kacchictl boots the simulated kernel core and drives it from the
// terminal: a scripted demo, a one-shot boot report or an interactive view.
package main

func main() {
	execute()
}
