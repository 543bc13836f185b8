package db

import (
	"fmt"
	"strconv"

	"github.com/lightshowd/lightshowd/constants"
	"github.com/lightshowd/lightshowd/model"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/dynamodb"
)

// GetTrackMetadatas batch-fetches metadata records keyed by track file
// stem. Metadata is optional; the lookup only runs when METADATA_TABLE
// is configured.
func GetTrackMetadatas(files []string) (map[string]model.TrackMetadata, error) {
	if len(files) > 10 {
		return nil, fmt.Errorf("cannot fetch more than 10 records at a time, got %v", len(files))
	}

	res := make(map[string]model.TrackMetadata)
	if len(files) == 0 {
		return res, nil
	}

	table := constants.GetMetadataTable()
	if table == "" {
		return res, nil
	}

	var keys []map[string]*dynamodb.AttributeValue
	for _, file := range files {
		keys = append(keys, map[string]*dynamodb.AttributeValue{
			"PK": {S: aws.String(file)},
		})
	}

	config := aws.Config{}
	if endpoint := constants.GetMetadataEndpoint(); endpoint != "" {
		config.Region = aws.String("localhost")
		config.Endpoint = aws.String(endpoint)
	}
	sess, err := session.NewSession(&config)
	if err != nil {
		return nil, fmt.Errorf("could not create a DynamoDB session: %w", err)
	}

	client := dynamodb.New(sess)
	input := &dynamodb.BatchGetItemInput{
		RequestItems: map[string]*dynamodb.KeysAndAttributes{
			table: {Keys: keys},
		},
	}
	dbres, err := client.BatchGetItem(input)
	if err != nil {
		return nil, fmt.Errorf("error from DynamoDB: %w", err)
	}

	for _, v := range dbres.Responses[table] {
		var m model.TrackMetadata
		if v["Year"] != nil && v["Year"].N != nil {
			year, _ := strconv.ParseUint(*v["Year"].N, 10, 32)
			m.Year = uint(year)
		}
		if v["Artist"] != nil && v["Artist"].S != nil {
			m.Artist = *v["Artist"].S
		}
		if v["Release"] != nil && v["Release"].S != nil {
			m.Release = *v["Release"].S
		}
		if v["Title"] != nil && v["Title"].S != nil {
			m.Title = *v["Title"].S
		}
		res[*v["PK"].S] = m
	}

	return res, nil
}
