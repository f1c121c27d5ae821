package engine

import (
	"net/url"
	"strings"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
)

// resourceTypes maps config names to protocol resource types.
var resourceTypes = map[string]proto.NetworkResourceType{
	"Image":      proto.NetworkResourceTypeImage,
	"Stylesheet": proto.NetworkResourceTypeStylesheet,
	"Font":       proto.NetworkResourceTypeFont,
	"Media":      proto.NetworkResourceTypeMedia,
	"Script":     proto.NetworkResourceTypeScript,
}

// trackerHosts are ad and telemetry hosts a storefront page pulls in that
// never affect the result tiles.
var trackerHosts = newHostSet(
	"doubleclick.net",
	"googlesyndication.com",
	"googleadservices.com",
	"google-analytics.com",
	"googletagmanager.com",
	"amazon-adsystem.com",
	"adnxs.com",
	"adsrvr.org",
	"criteo.com",
	"criteo.net",
	"facebook.net",
	"scorecardresearch.com",
	"moatads.com",
	"pubmatic.com",
	"rubiconproject.com",
	"quantserve.com",
	"hotjar.com",
	"demdex.net",
	"krxd.net",
	"rlcdn.com",
	"fls-na.amazon.com",
	"unagi.amazon.com",
	"unagi-na.amazon.com",
)

type hostSet map[string]struct{}

func newHostSet(hosts ...string) hostSet {
	s := make(hostSet, len(hosts))
	for _, h := range hosts {
		s[h] = struct{}{}
	}
	return s
}

// matches checks host and each parent domain against the set.
func (s hostSet) matches(host string) bool {
	host = strings.ToLower(host)
	for host != "" {
		if _, ok := s[host]; ok {
			return true
		}
		idx := strings.IndexByte(host, '.')
		if idx < 0 {
			return false
		}
		host = host[idx+1:]
	}
	return false
}

// setupHijack blocks the configured resource types and, when blockTrackers
// is set, requests to tracker hosts. It returns nil when nothing is
// blocked; otherwise the caller must Stop the router.
func setupHijack(page *rod.Page, blockedTypes []string, blockTrackers bool) *rod.HijackRouter {
	blocked := make(map[proto.NetworkResourceType]struct{}, len(blockedTypes))
	for _, name := range blockedTypes {
		if rt, ok := resourceTypes[name]; ok {
			blocked[rt] = struct{}{}
		}
	}
	if len(blocked) == 0 && !blockTrackers {
		return nil
	}

	router := page.HijackRequests()
	_ = router.Add("*", "", func(ctx *rod.Hijack) {
		if _, drop := blocked[ctx.Request.Type()]; drop {
			ctx.Response.Fail(proto.NetworkErrorReasonBlockedByClient)
			return
		}
		if blockTrackers {
			if u, err := url.Parse(ctx.Request.URL().String()); err == nil && trackerHosts.matches(u.Hostname()) {
				ctx.Response.Fail(proto.NetworkErrorReasonBlockedByClient)
				return
			}
		}
		ctx.ContinueRequest(&proto.FetchContinueRequest{})
	})

	// Run blocks until Stop.
	go router.Run()

	return router
}
