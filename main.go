// Command judgmentcrawler crawls the court judgment listing.
package main

import "github.com/JakeFAU/judgment-crawler/cmd"

func main() {
	cmd.Execute()
}
