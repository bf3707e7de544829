// guise fetches a URL with a chosen browser identity, or reports what a
// profile looks like on the wire.
//
//	guise -list
//	guise -profile chrome_131 -show https://example.com
//	guise -profile firefox_135 -X POST -d '{"a":1}' https://httpbin.org/post
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/keenanhx/guise"
)

type headerFlags []guise.Header

func (h *headerFlags) String() string { return fmt.Sprint(*h) }

func (h *headerFlags) Set(v string) error {
	name, value, ok := strings.Cut(v, ":")
	if !ok {
		return fmt.Errorf("header %q: want name:value", v)
	}
	*h = append(*h, guise.Header{Name: strings.TrimSpace(name), Value: strings.TrimSpace(value)})
	return nil
}

func main() {
	var (
		profileName = flag.String("profile", "chrome_131", "browser profile to impersonate")
		osName      = flag.String("os", "", "operating system variant (windows, macos, linux, android, ios)")
		method      = flag.String("X", "GET", "request method")
		data        = flag.String("d", "", "request body")
		proxyURL    = flag.String("proxy", "", "proxy URL (http, https, socks5)")
		timeout     = flag.Duration("timeout", 30*time.Second, "request timeout")
		insecure    = flag.Bool("k", false, "skip TLS certificate verification")
		show        = flag.Bool("show", false, "print the profile's JA3 and Akamai fingerprints before the request")
		list        = flag.Bool("list", false, "list available profiles and exit")
		headers     headerFlags
	)
	flag.Var(&headers, "H", "extra header as name:value, repeatable")
	flag.Parse()

	if *list {
		for _, name := range guise.Profiles() {
			fmt.Println(name)
		}
		return
	}

	if *show {
		if ja3, err := guise.JA3(*profileName); err == nil {
			fmt.Printf("ja3:    %s\n", ja3)
		}
		if akamai, err := guise.Akamai(*profileName); err == nil {
			fmt.Printf("akamai: %s\n", akamai)
		}
	}

	if flag.NArg() != 1 {
		if *show {
			return
		}
		fmt.Fprintln(os.Stderr, "usage: guise [flags] URL")
		flag.PrintDefaults()
		os.Exit(2)
	}

	opts := []guise.Option{
		guise.WithImpersonate(*profileName),
		guise.WithTimeout(*timeout),
	}
	if *osName != "" {
		opts = append(opts, guise.WithImpersonateOS(*osName))
	}
	if *proxyURL != "" {
		opts = append(opts, guise.WithProxy(*proxyURL))
	}
	if *insecure {
		opts = append(opts, guise.WithoutVerify())
	}

	c, err := guise.New(opts...)
	if err != nil {
		fmt.Fprintf(os.Stderr, "guise: %v\n", err)
		os.Exit(1)
	}
	defer c.Close()

	req := &guise.Request{
		Method:  strings.ToUpper(*method),
		URL:     flag.Arg(0),
		Headers: headers,
	}
	if *data != "" {
		req.Body = []byte(*data)
	}

	resp, err := c.Do(context.Background(), req)
	if err != nil {
		fmt.Fprintf(os.Stderr, "guise: %v\n", err)
		os.Exit(1)
	}
	defer resp.Close()

	fmt.Fprintf(os.Stderr, "%s %d\n", resp.Proto, resp.StatusCode)
	body, err := resp.Content()
	if err != nil {
		fmt.Fprintf(os.Stderr, "guise: read body: %v\n", err)
		os.Exit(1)
	}
	os.Stdout.Write(body)
}
