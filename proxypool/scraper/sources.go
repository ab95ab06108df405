package scraper

import "proxyfinder/proxypool/model"

// DefaultSources is the built-in listing set, used when no sources file exists.
func DefaultSources() []model.Source {
	return []model.Source{
		{
			Name:     "proxyscrape-http",
			URL:      "https://api.proxyscrape.com/v2/?request=displayproxies&protocol=http&country=IR&timeout=10000&simplified=true",
			Strategy: model.StrategyLineList,
		},
		{
			Name:     "proxyscrape-https",
			URL:      "https://api.proxyscrape.com/v2/?request=displayproxies&protocol=https&country=IR&timeout=10000&simplified=true",
			Strategy: model.StrategyLineList,
		},
		{
			Name:     "proxy-list.download-http",
			URL:      "https://www.proxy-list.download/api/v1/get?type=http&country=IR",
			Strategy: model.StrategyLineList,
		},
		{
			Name:     "proxy-list.download-https",
			URL:      "https://www.proxy-list.download/api/v1/get?type=https&country=IR",
			Strategy: model.StrategyLineList,
		},
		{
			Name:     "spys.one",
			URL:      "https://spys.one/free-proxy-list/IR/",
			Strategy: model.StrategyTableRegex,
		},
		{
			Name:     "freeproxy.world",
			URL:      "https://www.freeproxy.world/?country=IR",
			Strategy: model.StrategyTablePairedIPPort,
		},
		{
			Name:     "TheSpeedX",
			URL:      "https://raw.githubusercontent.com/TheSpeedX/PROXY-List/master/http.txt",
			Strategy: model.StrategyLineList,
		},
	}
}
