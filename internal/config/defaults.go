package config

import "time"

// Default returns the built-in configuration used when no file exists.
func Default() *Config {
	return &Config{
		Database: DatabaseConfig{
			Host:    "localhost",
			Port:    5432,
			User:    "tradewatch",
			DBName:  "tradewatch",
			SSLMode: "disable",
			Driver:  "postgres",
		},
		Server: ServerConfig{
			Port:            5000,
			ReadTimeout:     10 * time.Second,
			ShutdownTimeout: 15 * time.Second,
		},
		Telemetry: TelemetryConfig{
			ServiceName:    "tradewatch",
			ServiceVersion: "0.1.0",
			LogFormat:      "text",
			LogLevel:       "info",
		},
		LeaderElection: LeaderElectionConfig{
			Enabled:        false,
			LeaseName:      "tradewatch-scheduler",
			LeaseNamespace: "default",
			LeaseDuration:  15 * time.Second,
			RenewDeadline:  10 * time.Second,
			RetryPeriod:    2 * time.Second,
		},
		Discord: DiscordConfig{
			MessageLimit: 50,
		},
		Lock: LockConfig{
			Driver: "local",
			Key:    "tradewatch:pipeline",
			TTL:    30 * time.Minute,
		},
		Scraper: ScraperConfig{
			ForumBaseURL: "https://forum.wurmonline.com",
			ForumBoards:  []string{"/index.php?/forum/9-selling/"},
			SteamURLs: []string{
				"https://steamcommunity.com/app/1179680/discussions/",
				"https://steamcommunity.com/app/366220/discussions/",
			},
			MaxTopics:      10,
			ScrapeInterval: time.Hour,
			RequestDelay:   2 * time.Second,
			RequestTimeout: 10 * time.Second,
			MaxRetries:     3,
			UserAgent:      "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
			Retention:      30 * 24 * time.Hour,
		},
		Market: DefaultMarket(),
	}
}

// DefaultMarket returns the built-in extraction tables.
func DefaultMarket() MarketConfig {
	return MarketConfig{
		Categories: []Category{
			{Name: "tools", Keywords: []string{"axe", "pickaxe", "hammer", "saw", "knife", "chisel", "file", "rake", "shovel", "scissor"}},
			{Name: "weapons", Keywords: []string{"sword", "spear", "bow", "arrow", "club", "mace", "staff", "wand", "dagger"}},
			{Name: "armor", Keywords: []string{"helmet", "armor", "shield", "boot", "gauntlet", "sleeve", "jacket", "cap"}},
			{Name: "materials", Keywords: []string{"rope", "brick", "log", "plank", "metal lump", "ore", "clay", "tar", "cotton", "wemp"}},
			{Name: "food", Keywords: []string{"bread", "stew", "meal", "wine", "beer", "juice", "soup", "pie", "cake"}},
			{Name: "misc", Keywords: []string{"lamp", "chest", "bed", "table", "chair", "barrel", "jar", "pottery", "sail", "cart"}},
		},
		DefaultCategory: "misc",
		Servers:         []string{"Independence", "Pristine", "Celebration", "Xanadu", "Cadence", "Harmony", "Melody"},
		MajorUnit:       "silver",
		Currencies: []Currency{
			{Unit: "silver", Aliases: []string{"s", "silver"}, Factor: 1},
			{Unit: "copper", Aliases: []string{"c", "copper"}, Factor: 0.01},
			{Unit: "iron", Aliases: []string{"iron"}, Factor: 20},
		},
		ItemSuffixes: []string{
			"axe", "sword", "hammer", "rope", "brick", "armor", "helmet", "shield", "bow", "arrow",
			"knife", "saw", "pickaxe", "spear", "club", "meal", "bread", "wine", "beer",
			"lamp", "chest", "bed", "table", "chair",
		},
		QualityMarkers: []string{"quality", "ql", "q"},
		IntentMarkers:  []string{"want to sell", "want to buy", "wts", "wtb", "wtt", "selling", "buying", "sell", "buy"},
		TradeKeywords: []string{
			"want to sell", "want to buy", "wts", "wtb", "wtt", "selling", "buying", "trade", "shop",
			"sale", "price", "silver", "copper", "iron", "market",
		},
	}
}
