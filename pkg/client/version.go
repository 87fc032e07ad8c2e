package client

// Version is the client library version, reported in the User-Agent
// header.
const Version = "0.1.0"

// DefaultUserAgent is the User-Agent sent unless overridden in Config.
const DefaultUserAgent = "zyte-api-go/" + Version
