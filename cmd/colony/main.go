// Colony runtime: schedules cron-driven agents, routes model traffic
// through the gateway, and serves the admin HTTP API.
package main

func main() {
	Execute()
}
