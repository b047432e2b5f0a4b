package main

import "testing"

func TestParseStartupAddr(t *testing.T) {
	cases := []struct {
		args []string
		want string
	}{
		{nil, ""},
		{[]string{}, ""},
		{[]string{"rdp://localhost:8080"}, "localhost:8080"},
		{[]string{"--flag", "rdp://10.0.0.1:8080"}, "10.0.0.1:8080"},
		{[]string{"rdp://host:port/"}, "host:port"},
		{[]string{"rdp://"}, ""},
		{[]string{"notrdp://host:port"}, ""},
		{[]string{"someflag", "otherarg"}, ""},
	}
	for _, c := range cases {
		got := parseStartupAddr(c.args)
		if got != c.want {
			t.Errorf("parseStartupAddr(%v) = %q, want %q", c.args, got, c.want)
		}
	}
}
