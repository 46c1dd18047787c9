package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

const (
	ToolCurrentWeather = "get_current_weather"
	ToolForecast       = "get_forecast"

	// forecastWindow is the number of days always requested upstream.
	forecastWindow = 3
)

var weatherCodes = map[int]string{
	0:  "Clear sky",
	1:  "Mainly clear",
	2:  "Partly cloudy",
	3:  "Overcast",
	45: "Fog",
	51: "Light drizzle",
	53: "Moderate drizzle",
	55: "Dense drizzle",
	61: "Slight rain",
	63: "Moderate rain",
	65: "Heavy rain",
	71: "Slight snow",
	73: "Moderate snow",
	75: "Heavy snow",
	80: "Light rain showers",
	81: "Moderate rain showers",
	82: "Heavy rain showers",
	95: "Thunderstorm",
	96: "Thunderstorm with hail",
}

// DescribeWeatherCode maps a WMO weather code to text.
func DescribeWeatherCode(code int) string {
	if d, ok := weatherCodes[code]; ok {
		return d
	}
	return "Unknown"
}

// WeatherTools exposes current weather and forecast lookups.
type WeatherTools struct {
	geocoder   Geocoder
	forecaster Forecaster
}

func NewWeatherTools(geocoder Geocoder, forecaster Forecaster) *WeatherTools {
	return &WeatherTools{geocoder: geocoder, forecaster: forecaster}
}

// CurrentWeather reports temperature, conditions and wind for location.
func (w *WeatherTools) CurrentWeather(ctx context.Context, location string) (string, error) {
	location = strings.TrimSpace(location)
	if location == "" {
		return "", newError(ToolCurrentWeather, KindInvalidInput, "location cannot be empty", nil)
	}
	coords, name, err := w.resolve(ctx, ToolCurrentWeather, location)
	if err != nil {
		return "", err
	}
	fc, err := w.forecaster.Forecast(ctx, coords, forecastWindow)
	if err != nil {
		return "", retag(ToolCurrentWeather, err)
	}

	c := fc.Current
	return fmt.Sprintf("Current weather in %s:\n• Temperature: %s°C\n• Conditions: %s\n• Wind: %s km/h",
		name, formatNumber(c.Temperature), DescribeWeatherCode(c.WeatherCode), formatNumber(c.WindSpeed)), nil
}

// Forecast reports a daily forecast for 1 to 3 days.
func (w *WeatherTools) Forecast(ctx context.Context, location string, days int) (string, error) {
	location = strings.TrimSpace(location)
	if location == "" {
		return "", newError(ToolForecast, KindInvalidInput, "location cannot be empty", nil)
	}
	if days < 1 || days > forecastWindow {
		return "", newError(ToolForecast, KindInvalidInput,
			fmt.Sprintf("days must be between 1 and %d, got %d", forecastWindow, days), nil)
	}
	coords, name, err := w.resolve(ctx, ToolForecast, location)
	if err != nil {
		return "", err
	}
	fc, err := w.forecaster.Forecast(ctx, coords, forecastWindow)
	if err != nil {
		return "", retag(ToolForecast, err)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%d-day forecast for %s:\n", days, name)
	for i, d := range fc.Daily {
		if i >= days {
			break
		}
		fmt.Fprintf(&b, "\n%s:\n  • Temp: %.0f°C to %.0f°C\n  • Conditions: %s\n  • Precipitation: %.1fmm",
			d.Date, d.TemperatureMin, d.TemperatureMax, DescribeWeatherCode(d.WeatherCode), d.PrecipitationSum)
	}
	return b.String(), nil
}

// resolve accepts either "lat,lon" or a place name.
func (w *WeatherTools) resolve(ctx context.Context, tool, location string) (Coordinates, string, error) {
	if c, ok := parseCoordinates(location); ok {
		return c, fmt.Sprintf("%.2f,%.2f", c.Latitude, c.Longitude), nil
	}
	c, err := w.geocoder.Geocode(ctx, location)
	if err != nil {
		return Coordinates{}, "", retag(tool, err)
	}
	return c, location, nil
}

func parseCoordinates(s string) (Coordinates, bool) {
	lat, lon, ok := strings.Cut(s, ",")
	if !ok {
		return Coordinates{}, false
	}
	la, err := strconv.ParseFloat(strings.TrimSpace(lat), 64)
	if err != nil {
		return Coordinates{}, false
	}
	lo, err := strconv.ParseFloat(strings.TrimSpace(lon), 64)
	if err != nil {
		return Coordinates{}, false
	}
	return Coordinates{Latitude: la, Longitude: lo}, true
}

// retag attributes an upstream client error to the tool that surfaced it.
func retag(tool string, err error) error {
	var te *Error
	if errors.As(err, &te) {
		cp := *te
		cp.Tool = tool
		return &cp
	}
	return newError(tool, KindInternal, "unexpected failure", err)
}

func formatNumber(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

type weatherArgs struct {
	Location string `json:"location"`
	Days     *int   `json:"days,omitempty"`
}

// Tools returns the weather capabilities as model-callable tools.
func (w *WeatherTools) Tools() []Tool {
	return []Tool{
		&funcTool{
			name:        ToolCurrentWeather,
			description: "Get current weather for a city",
			params: objectSchema(map[string]any{
				"location": map[string]any{
					"type":        "string",
					"description": "City name or \"lat,lon\" coordinates",
				},
			}, "location"),
			fn: func(ctx context.Context, raw json.RawMessage) (string, error) {
				var args weatherArgs
				if err := decodeArgs(ToolCurrentWeather, raw, &args); err != nil {
					return "", err
				}
				return w.CurrentWeather(ctx, args.Location)
			},
		},
		&funcTool{
			name:        ToolForecast,
			description: "Get weather forecast for a city",
			params: objectSchema(map[string]any{
				"location": map[string]any{
					"type":        "string",
					"description": "City name or \"lat,lon\" coordinates",
				},
				"days": map[string]any{
					"type":        "integer",
					"description": "Number of days (1-3)",
					"minimum":     1,
					"maximum":     forecastWindow,
				},
			}, "location"),
			fn: func(ctx context.Context, raw json.RawMessage) (string, error) {
				var args weatherArgs
				if err := decodeArgs(ToolForecast, raw, &args); err != nil {
					return "", err
				}
				days := forecastWindow
				if args.Days != nil {
					days = *args.Days
				}
				return w.Forecast(ctx, args.Location, days)
			},
		},
	}
}
