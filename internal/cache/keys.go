package cache

import "fmt"

const KeyStops = "stops"

func KeyAgency(id int64) string {
	return fmt.Sprintf("agency:%d", id)
}

func KeyStop(id int64) string {
	return fmt.Sprintf("stop:%d", id)
}
