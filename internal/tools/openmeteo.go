package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// Forecast is the subset of an Open-Meteo response the weather tools use.
type Forecast struct {
	Current CurrentConditions
	Daily   []DailyForecast
}

type CurrentConditions struct {
	Temperature float64
	WindSpeed   float64
	WeatherCode int
}

type DailyForecast struct {
	Date             string
	TemperatureMin   float64
	TemperatureMax   float64
	PrecipitationSum float64
	WeatherCode      int
}

// Forecaster fetches current conditions and a daily forecast.
type Forecaster interface {
	Forecast(ctx context.Context, at Coordinates, days int) (*Forecast, error)
}

// OpenMeteoClient queries the Open-Meteo forecast API.
type OpenMeteoClient struct {
	baseURL string
	client  *http.Client
}

// NewOpenMeteoClient creates a client for baseURL (the /v1/forecast endpoint).
func NewOpenMeteoClient(baseURL string) *OpenMeteoClient {
	return &OpenMeteoClient{
		baseURL: baseURL,
		client:  &http.Client{Timeout: 15 * time.Second},
	}
}

type openMeteoResponse struct {
	CurrentWeather struct {
		Temperature float64 `json:"temperature"`
		WindSpeed   float64 `json:"windspeed"`
		WeatherCode float64 `json:"weathercode"`
	} `json:"current_weather"`
	Daily struct {
		Time             []string   `json:"time"`
		TemperatureMax   []*float64 `json:"temperature_2m_max"`
		TemperatureMin   []*float64 `json:"temperature_2m_min"`
		PrecipitationSum []*float64 `json:"precipitation_sum"`
		WeatherCode      []*float64 `json:"weathercode"`
	} `json:"daily"`
}

// Forecast fetches current weather and up to days daily entries.
func (c *OpenMeteoClient) Forecast(ctx context.Context, at Coordinates, days int) (*Forecast, error) {
	const tool = "forecast"

	q := url.Values{}
	q.Set("latitude", strconv.FormatFloat(at.Latitude, 'f', -1, 64))
	q.Set("longitude", strconv.FormatFloat(at.Longitude, 'f', -1, 64))
	q.Set("current_weather", "true")
	q.Set("hourly", "temperature_2m,weathercode,precipitation_probability")
	q.Set("daily", "temperature_2m_max,temperature_2m_min,precipitation_sum,weathercode")
	q.Set("forecast_days", strconv.Itoa(days))
	q.Set("timezone", "auto")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"?"+q.Encode(), nil)
	if err != nil {
		return nil, newError(tool, KindInternal, "build weather request", err)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, newError(tool, KindTransport, "weather request failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, newError(tool, KindUpstream,
			fmt.Sprintf("weather service returned %d", resp.StatusCode), fmt.Errorf("%s", body))
	}

	var raw openMeteoResponse
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return nil, newError(tool, KindDecode, "decode weather response", err)
	}

	out := &Forecast{
		Current: CurrentConditions{
			Temperature: raw.CurrentWeather.Temperature,
			WindSpeed:   raw.CurrentWeather.WindSpeed,
			WeatherCode: int(raw.CurrentWeather.WeatherCode),
		},
	}
	d := raw.Daily
	for i := range d.Time {
		out.Daily = append(out.Daily, DailyForecast{
			Date:             d.Time[i],
			TemperatureMax:   valueAt(d.TemperatureMax, i),
			TemperatureMin:   valueAt(d.TemperatureMin, i),
			PrecipitationSum: valueAt(d.PrecipitationSum, i),
			WeatherCode:      int(valueAt(d.WeatherCode, i)),
		})
	}
	return out, nil
}

// valueAt reads a nullable series value, treating gaps as zero.
func valueAt(series []*float64, i int) float64 {
	if i >= len(series) || series[i] == nil {
		return 0
	}
	return *series[i]
}
