package gps

// Package gps ingests NMEA 0183 from a GNSS receiver and keeps a live model
// of the fix and the visible satellite constellation.
//
// Sources:
// - serial: USB serial device in raw mode (u-blox class receivers)
// - gpsd: TCP JSON reports from a local gpsd
// - file: replay of a captured NMEA log
//
// Sentences handled: RMC, GGA, GSA, GSV, VTG. Everything else is counted and
// passed through to the raw stream untouched.
