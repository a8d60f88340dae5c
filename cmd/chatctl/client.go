package main

import (
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
)

var httpClient = resty.New().SetTimeout(60 * time.Second)

func doGet(url string) ([]byte, error) {
	resp, err := httpClient.R().Get(url)
	if err != nil {
		return nil, err
	}
	if resp.IsError() {
		return nil, fmt.Errorf("GET %s: %s: %s", url, resp.Status(), resp.Body())
	}
	return resp.Body(), nil
}

func doPostJSON(url string, payload interface{}) ([]byte, error) {
	resp, err := httpClient.R().
		SetHeader("Content-Type", "application/json").
		SetBody(payload).
		Post(url)
	if err != nil {
		return nil, err
	}
	if resp.IsError() {
		return nil, fmt.Errorf("POST %s: %s: %s", url, resp.Status(), resp.Body())
	}
	return resp.Body(), nil
}
