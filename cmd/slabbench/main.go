// Command slabbench times repeated vector allocations on the Go heap and on slab
// pools.
package main

func main() {
	execute()
}
